// Package classifier talks to the remote defect-detection service.
package classifier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"layer-monitor/internal/defect"

	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrClassifier wraps every failure to obtain detections.
var ErrClassifier = errors.New("classifier")

// ClassifyMethod is the full gRPC method name served by the detector.
// Requests and responses are google.protobuf.Struct messages.
const ClassifyMethod = "/layermonitor.DefectClassifier/Classify"

// Options tunes classification requests.
type Options struct {
	Confidence float64       // minimum detection confidence forwarded to the model
	ImageSize  int           // model input size hint
	Timeout    time.Duration // per-call deadline, 0 for none
}

// DefaultOptions mirrors the detector's production settings.
func DefaultOptions() Options {
	return Options{
		Confidence: 0.85,
		ImageSize:  2048,
	}
}

// Client is a defect.Classifier backed by a gRPC detection service.
type Client struct {
	conn *grpc.ClientConn
	opts Options
}

var _ defect.Classifier = (*Client)(nil)

// NewClient connects to the detection service at addr.
func NewClient(addr string, opts Options) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, opts: opts}, nil
}

// NewClientWithConn wraps an existing connection.
func NewClientWithConn(conn *grpc.ClientConn, opts Options) *Client {
	return &Client{conn: conn, opts: opts}
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Classify sends a masked layer image to the service and returns its
// detections.
func (c *Client) Classify(ctx context.Context, img gocv.Mat) ([]defect.Detection, error) {
	req, err := c.request(img)
	if err != nil {
		return nil, err
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ClassifyMethod, req, resp); err != nil {
		return nil, fmt.Errorf("%w: classify rpc: %w", ErrClassifier, err)
	}
	return decodeDetections(resp)
}

func (c *Client) request(img gocv.Mat) (*structpb.Struct, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrClassifier)
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("%w: encode png: %w", ErrClassifier, err)
	}
	defer buf.Close()

	req, err := structpb.NewStruct(map[string]any{
		"image_png":  base64.StdEncoding.EncodeToString(buf.GetBytes()),
		"confidence": c.opts.Confidence,
		"image_size": c.opts.ImageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrClassifier, err)
	}
	return req, nil
}

// decodeDetections reads {"detections": [{"class", "confidence", "box"}]}.
func decodeDetections(resp *structpb.Struct) ([]defect.Detection, error) {
	field, ok := resp.GetFields()["detections"]
	if !ok {
		return nil, nil
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: detections is not a list", ErrClassifier)
	}

	out := make([]defect.Detection, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("%w: detection %d is not an object", ErrClassifier, i)
		}
		f := s.GetFields()

		class := f["class"].GetStringValue()
		if class == "" {
			return nil, fmt.Errorf("%w: detection %d has no class", ErrClassifier, i)
		}
		box := f["box"].GetListValue().GetValues()
		if len(box) != 4 {
			return nil, fmt.Errorf("%w: detection %d box has %d values", ErrClassifier, i, len(box))
		}

		out = append(out, defect.NewDetection(
			defect.Class(class),
			f["confidence"].GetNumberValue(),
			box[0].GetNumberValue(), box[1].GetNumberValue(),
			box[2].GetNumberValue(), box[3].GetNumberValue(),
		))
	}
	return out, nil
}
