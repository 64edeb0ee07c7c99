// Package rekognition backs face and person detection with AWS Rekognition.
// Faces come from DetectFaces, with the jawline, chin and brow landmarks
// hulled into a contour that reaches up to the top of the face box.
// People come from the "Person" instances of DetectLabels.
package rekognition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"

	"github.com/andresmejia3/outfit360/internal/detect"
	"github.com/andresmejia3/outfit360/internal/geom"
	"github.com/andresmejia3/outfit360/internal/imgbuf"
)

const (
	errCodeAccessDenied     = "AccessDeniedException"
	errCodeInvalidParameter = "InvalidParameterException"
	errCodeThrottling       = "ThrottlingException"

	personLabel = "Person"

	// maxImageSize is the largest inline image Rekognition accepts.
	maxImageSize = 5 * 1024 * 1024
)

// Landmarks on the face outline. Only AttributeAll returns them; the
// default set (eyes, nose, mouth corners) sits well inside the face.
var (
	jawLandmarks = map[types.LandmarkType]bool{
		types.LandmarkTypeUpperJawlineLeft:  true,
		types.LandmarkTypeMidJawlineLeft:    true,
		types.LandmarkTypeChinBottom:        true,
		types.LandmarkTypeMidJawlineRight:   true,
		types.LandmarkTypeUpperJawlineRight: true,
	}
	browLandmarks = map[types.LandmarkType]bool{
		types.LandmarkTypeLeftEyeBrowLeft:   true,
		types.LandmarkTypeLeftEyeBrowUp:     true,
		types.LandmarkTypeLeftEyeBrowRight:  true,
		types.LandmarkTypeRightEyeBrowLeft:  true,
		types.LandmarkTypeRightEyeBrowUp:    true,
		types.LandmarkTypeRightEyeBrowRight: true,
	}
)

var (
	// ErrInvalidCredentials indicates that AWS credentials are invalid or missing.
	ErrInvalidCredentials = errors.New("invalid or missing AWS credentials")

	// ErrThrottled indicates the account hit its request rate.
	ErrThrottled = errors.New("rekognition request throttled")

	// ErrImageTooLarge indicates the encoded frame exceeds the inline limit.
	ErrImageTooLarge = errors.New("encoded frame exceeds rekognition size limit")
)

// API is the subset of the Rekognition client used here.
type API interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// Config holds the client settings.
type Config struct {
	Region        string
	MinConfidence float32
	JPEGQuality   int
}

// Client implements detect.FaceEstimator and detect.PoseEstimator. The SDK
// client is safe for concurrent use.
type Client struct {
	api API
	cfg Config
}

// NewClient loads the default AWS credential chain for cfg.Region.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithAPI(rekognition.NewFromConfig(awsCfg), cfg), nil
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api API, cfg Config) *Client {
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = imgbuf.DefaultJPEGQuality
	}
	return &Client{api: api, cfg: cfg}
}

// EstimateFaces implements detect.FaceEstimator.
func (c *Client) EstimateFaces(ctx context.Context, t detect.Tensor) ([]detect.FaceCandidate, error) {
	img, err := c.encode(t)
	if err != nil {
		return nil, err
	}

	out, err := c.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: img},
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		return nil, parseError("detect faces", err)
	}

	faces := make([]detect.FaceCandidate, 0, len(out.FaceDetails))
	for _, fd := range out.FaceDetails {
		conf := aws.ToFloat32(fd.Confidence)
		if conf < c.cfg.MinConfidence || fd.BoundingBox == nil {
			continue
		}
		box := toRegion(fd.BoundingBox, t.Width, t.Height)
		faces = append(faces, detect.FaceCandidate{
			Box:       box,
			Keypoints: contour(fd.Landmarks, float64(box.YMin), t.Width, t.Height),
			Score:     float64(conf) / 100,
		})
	}
	return faces, nil
}

// EstimatePoses implements detect.PoseEstimator. Each person instance becomes
// a four-point skeleton at its box corners, largest person first.
func (c *Client) EstimatePoses(ctx context.Context, t detect.Tensor) ([]detect.PoseCandidate, error) {
	img, err := c.encode(t)
	if err != nil {
		return nil, err
	}

	out, err := c.api.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: img},
		MinConfidence: aws.Float32(c.cfg.MinConfidence),
	})
	if err != nil {
		return nil, parseError("detect labels", err)
	}

	var instances []types.Instance
	for _, l := range out.Labels {
		if aws.ToString(l.Name) == personLabel {
			instances = append(instances, l.Instances...)
		}
	}
	sort.SliceStable(instances, func(i, j int) bool {
		return boxArea(instances[i].BoundingBox) > boxArea(instances[j].BoundingBox)
	})

	poses := make([]detect.PoseCandidate, 0, len(instances))
	for _, inst := range instances {
		if inst.BoundingBox == nil {
			continue
		}
		poses = append(poses, detect.PoseCandidate{
			Keypoints: corners(inst.BoundingBox, t.Width, t.Height),
			Score:     float64(aws.ToFloat32(inst.Confidence)) / 100,
		})
	}
	return poses, nil
}

func (c *Client) encode(t detect.Tensor) ([]byte, error) {
	var buf bytes.Buffer
	if err := imgbuf.Encode(&buf, tensorImage(t), imgbuf.JPEG, c.cfg.JPEGQuality); err != nil {
		return nil, err
	}
	if buf.Len() > maxImageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, buf.Len())
	}
	return buf.Bytes(), nil
}

// tensorImage rebuilds an opaque image from packed RGB.
func tensorImage(t detect.Tensor) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	for i, j := 0, 0; i+2 < len(t.Pix) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = t.Pix[i]
		img.Pix[j+1] = t.Pix[i+1]
		img.Pix[j+2] = t.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// toRegion converts a ratio box to detection-space pixels.
func toRegion(b *types.BoundingBox, w, h int) geom.Region {
	left := float64(aws.ToFloat32(b.Left)) * float64(w)
	top := float64(aws.ToFloat32(b.Top)) * float64(h)
	right := left + float64(aws.ToFloat32(b.Width))*float64(w)
	bottom := top + float64(aws.ToFloat32(b.Height))*float64(h)
	return geom.FromBounds(left, top, right, bottom, geom.DetectionSpace)
}

func corners(b *types.BoundingBox, w, h int) []geom.Point {
	r := toRegion(b, w, h)
	x0, y0 := float64(r.XMin), float64(r.YMin)
	x1, y1 := x0+float64(r.Width), y0+float64(r.Height)
	return []geom.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func boxArea(b *types.BoundingBox) float32 {
	if b == nil {
		return 0
	}
	return aws.ToFloat32(b.Width) * aws.ToFloat32(b.Height)
}

// contour returns the convex hull of the outline landmarks. Each brow point
// is also lifted to top so the forehead is inside the polygon. Without both
// jaw and brow landmarks it returns nil and the mask falls back to the padded
// box ellipse.
func contour(landmarks []types.Landmark, top float64, w, h int) []geom.Point {
	var pts []geom.Point
	var jaw, brow int
	for _, l := range landmarks {
		p := geom.Point{X: float64(aws.ToFloat32(l.X)) * float64(w), Y: float64(aws.ToFloat32(l.Y)) * float64(h)}
		switch {
		case jawLandmarks[l.Type]:
			jaw++
			pts = append(pts, p)
		case browLandmarks[l.Type]:
			brow++
			pts = append(pts, p, geom.Point{X: p.X, Y: math.Min(top, p.Y)})
		}
	}
	if jaw < 2 || brow < 2 {
		return nil
	}
	return hull(pts)
}

// hull is Andrew's monotone chain. Points come back in hull order without
// repeating the first one.
func hull(pts []geom.Point) []geom.Point {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
	cross := func(o, a, b geom.Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	out := make([]geom.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(out) >= 2 && cross(out[len(out)-2], out[len(out)-1], p) <= 0 {
			out = out[:len(out)-1]
		}
		out = append(out, p)
	}
	lower := len(out) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(out) >= lower && cross(out[len(out)-2], out[len(out)-1], p) <= 0 {
			out = out[:len(out)-1]
		}
		out = append(out, p)
	}
	out = out[:len(out)-1]
	if len(out) < 3 {
		return nil
	}
	return out
}

func parseError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case errCodeAccessDenied:
			return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		case errCodeThrottling:
			return fmt.Errorf("%s: %w", op, ErrThrottled)
		case errCodeInvalidParameter:
			return fmt.Errorf("%s: invalid parameters: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
