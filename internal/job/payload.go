package job

import (
	"encoding/json"
	"fmt"

	"github.com/muaviaUsmani/jobqueue/internal/payload"
	"google.golang.org/protobuf/proto"
)

// DefaultSerializer is the package-wide payload codec. It defaults to
// protobuf so NewWithProto round-trips without an explicit format, while
// NewWithJSON and SetData always pick their format from the value's type.
var DefaultSerializer = payload.NewProtobufSerializer()

// NewWithProto creates a job whose Data is a protobuf-encoded payload.
func NewWithProto(queueName, name string, msg proto.Message, opts Opts) (*Job, error) {
	data, err := DefaultSerializer.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize protobuf payload: %w", err)
	}
	return New(queueName, name, data, opts), nil
}

// NewWithJSON creates a job whose Data is a JSON-encoded payload.
func NewWithJSON(queueName, name string, v interface{}, opts Opts) (*Job, error) {
	jsonSerializer := payload.NewJSONSerializer()
	data, err := jsonSerializer.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize JSON payload: %w", err)
	}
	return New(queueName, name, data, opts), nil
}

// PayloadFormat returns the encoding format of the job's Data.
func (j *Job) PayloadFormat() (payload.Format, error) {
	return DefaultSerializer.GetFormat(j.Data)
}

// IsProtobufPayload reports whether the job's Data is protobuf-encoded.
func (j *Job) IsProtobufPayload() bool {
	return DefaultSerializer.IsProtobuf(j.Data)
}

// IsJSONPayload reports whether the job's Data is JSON-encoded.
func (j *Job) IsJSONPayload() bool {
	return DefaultSerializer.IsJSON(j.Data)
}

// UnmarshalData deserializes the job's Data into v, detecting the format.
func (j *Job) UnmarshalData(v interface{}) error {
	return DefaultSerializer.Unmarshal(j.Data, v)
}

// UnmarshalDataProto deserializes the job's Data into a protobuf message.
func (j *Job) UnmarshalDataProto(msg proto.Message) error {
	return DefaultSerializer.Unmarshal(j.Data, msg)
}

// UnmarshalDataJSON deserializes the job's Data, requiring it be JSON.
func (j *Job) UnmarshalDataJSON(v interface{}) error {
	format, body, err := DefaultSerializer.DetectFormat(j.Data)
	if err != nil {
		return err
	}
	if format != payload.FormatJSON {
		return fmt.Errorf("payload is not in JSON format")
	}
	return json.Unmarshal(body, v)
}

// SetData re-serializes v into the job's Data, picking protobuf for a
// proto.Message and JSON otherwise.
func (j *Job) SetData(v interface{}) error {
	var data []byte
	var err error

	if msg, ok := v.(proto.Message); ok {
		data, err = DefaultSerializer.Marshal(msg)
	} else {
		jsonSerializer := payload.NewJSONSerializer()
		data, err = jsonSerializer.Marshal(v)
	}
	if err != nil {
		return err
	}

	j.Data = data
	return nil
}
