package flawless

import (
	"encoding/json"

	"github.com/samsarahq/go/oops"
)

// StackLine is one frame of a reported traceback.
type StackLine struct {
	Filename     string            `json:"filename"`
	LineNumber   int               `json:"line_number"`
	FunctionName string            `json:"function_name"`
	Text         string            `json:"text"`
	FrameLocals  map[string]string `json:"frame_locals,omitempty"`
}

// RecordErrorRequest is the body of a record_error call.
type RecordErrorRequest struct {
	// Traceback is ordered oldest frame first: preceding frames, then the failure's chain.
	Traceback        []StackLine `json:"traceback"`
	ExceptionMessage string      `json:"exception_message"`
	Hostname         string      `json:"hostname"`
	ErrorThreshold   *int        `json:"error_threshold,omitempty"`
	AdditionalInfo   interface{} `json:"additional_info,omitempty"`
}

// Dumps serializes the request to its wire format.
func (r *RecordErrorRequest) Dumps() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, oops.Wrapf(err, "unable to serialize record_error request")
	}
	return data, nil
}

// LoadsRecordErrorRequest parses a request produced by Dumps.
func LoadsRecordErrorRequest(data []byte) (*RecordErrorRequest, error) {
	var r RecordErrorRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, oops.Wrapf(err, "unable to parse record_error request")
	}
	return &r, nil
}
