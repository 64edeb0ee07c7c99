package types

// Sidecar operations.
const (
	OpFaces = "faces"
	OpPoses = "poses"
)

// InferenceRequest is one frame sent to the sidecar. Data is packed RGB,
// Width*Height*3 bytes, row-major.
type InferenceRequest struct {
	Op     string `msgpack:"op"`
	Width  int    `msgpack:"w"`
	Height int    `msgpack:"h"`
	Data   []byte `msgpack:"data"`
}

// FaceResult is one face in detection space. Box is [x, y, width, height].
type FaceResult struct {
	Box       [4]float64   `msgpack:"box"`
	Keypoints [][2]float64 `msgpack:"kp"`
	Score     float64      `msgpack:"score"`
}

// PoseResult is one person skeleton in detection space.
type PoseResult struct {
	Keypoints [][2]float64 `msgpack:"kp"`
	Score     float64      `msgpack:"score"`
}

// InferenceResponse carries either results or the error the sidecar raised.
type InferenceResponse struct {
	Error string       `msgpack:"error,omitempty"`
	Faces []FaceResult `msgpack:"faces,omitempty"`
	Poses []PoseResult `msgpack:"poses,omitempty"`
}
