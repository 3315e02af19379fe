package classifier

import (
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"layer-monitor/internal/defect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type classifyFunc func(context.Context, *structpb.Struct) (*structpb.Struct, error)

type classifyServer interface {
	Classify(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func (f classifyFunc) Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return f(ctx, req)
}

var testServiceDesc = grpc.ServiceDesc{
	ServiceName: "layermonitor.DefectClassifier",
	HandlerType: (*classifyServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Classify",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(classifyServer).Classify(ctx, in)
		},
	}},
	Metadata: "layermonitor/classifier.proto",
}

func startServer(t *testing.T, fn classifyFunc) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&testServiceDesc, fn)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	c := NewClientWithConn(conn, Options{Confidence: 0.85, ImageSize: 2048, Timeout: 2 * time.Second})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testImage() gocv.Mat {
	m := gocv.Zeros(8, 8, gocv.MatTypeCV8U)
	m.SetUCharAt(3, 3, 200)
	return m
}

func mustStruct(t *testing.T, v map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(v)
	require.NoError(t, err)
	return s
}

func TestClassifyDecodesDetections(t *testing.T) {
	var gotReq *structpb.Struct
	c := startServer(t, func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		gotReq = req
		return structpb.NewStruct(map[string]any{
			"detections": []any{
				map[string]any{"class": "Overextrusion", "confidence": 0.934, "box": []any{10.4, 20.6, 30.0, 40.2}},
				map[string]any{"class": "Underextrusion", "confidence": 0.87, "box": []any{0, 0, 5, 10}},
			},
		})
	})

	img := testImage()
	defer img.Close()

	dets, err := c.Classify(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, defect.Overextrusion, dets[0].Class)
	assert.Equal(t, 0.93, dets[0].Confidence)
	assert.Equal(t, [4]int{10, 21, 30, 40}, dets[0].Box.Corners())
	assert.Equal(t, defect.Underextrusion, dets[1].Class)
	assert.Equal(t, 50, dets[1].Area())

	require.NotNil(t, gotReq)
	f := gotReq.GetFields()
	assert.Equal(t, 0.85, f["confidence"].GetNumberValue())
	assert.Equal(t, 2048.0, f["image_size"].GetNumberValue())
	png, err := base64.StdEncoding.DecodeString(f["image_png"].GetStringValue())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestClassifyNoDetections(t *testing.T) {
	c := startServer(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return mustStruct(t, map[string]any{"detections": []any{}}), nil
	})
	img := testImage()
	defer img.Close()

	dets, err := c.Classify(context.Background(), img)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestClassifyRPCErrorWraps(t *testing.T) {
	c := startServer(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "model not loaded")
	})
	img := testImage()
	defer img.Close()

	_, err := c.Classify(context.Background(), img)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClassifier)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestClassifyTimeout(t *testing.T) {
	c := startServer(t, func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c.opts.Timeout = 50 * time.Millisecond
	img := testImage()
	defer img.Close()

	_, err := c.Classify(context.Background(), img)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClassifier)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestClassifyMalformedResponse(t *testing.T) {
	c := startServer(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return mustStruct(t, map[string]any{
			"detections": []any{map[string]any{"class": "Overextrusion", "box": []any{1, 2}}},
		}), nil
	})
	img := testImage()
	defer img.Close()

	_, err := c.Classify(context.Background(), img)
	assert.ErrorIs(t, err, ErrClassifier)
}

func TestClassifyEmptyImage(t *testing.T) {
	c := startServer(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		t.Fatal("server should not be called")
		return nil, nil
	})
	empty := gocv.NewMat()
	defer empty.Close()

	_, err := c.Classify(context.Background(), empty)
	assert.ErrorIs(t, err, ErrClassifier)
}
