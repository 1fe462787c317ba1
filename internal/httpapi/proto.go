package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/types"
)

// maxRequestBody caps report bodies in both encodings.  A report is well
// under 512 bytes either way.
const maxRequestBody = 4096

const protobufContentType = "application/x-protobuf"

// isProtobuf reports whether the request body is a protobuf Struct.
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == protobufContentType ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

// wantsProtobuf reports whether a GET caller asked for a protobuf reply.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, protobufContentType) ||
		strings.Contains(accept, "application/protobuf")
}

// readProto reads the request body and unmarshals it into msg.
func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// readReportProto decodes a google.protobuf.Struct body into a report.
// Field names match the JSON encoding.
func readReportProto(r *http.Request) (types.RawReport, error) {
	var s structpb.Struct
	if err := readProto(r, &s); err != nil {
		return types.RawReport{}, fmt.Errorf("invalid protobuf body: %w", err)
	}
	return reportFromStruct(&s)
}

func reportFromStruct(s *structpb.Struct) (types.RawReport, error) {
	var raw types.RawReport
	f := s.GetFields()

	for k := range f {
		switch k {
		case "device_id", "type", "timestamp", "value", "result", "event":
		default:
			return types.RawReport{}, fmt.Errorf("unknown field %q", k)
		}
	}

	raw.DeviceID = f["device_id"].GetStringValue()
	raw.Type = f["type"].GetStringValue()
	raw.Timestamp = f["timestamp"].GetStringValue()
	raw.Result = f["result"].GetStringValue()
	raw.Event = f["event"].GetStringValue()

	if v, ok := f["value"]; ok {
		n, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum {
			return types.RawReport{}, fmt.Errorf("value must be a number")
		}
		val := n.NumberValue
		raw.Value = &val
	}
	return raw, nil
}

// toStruct converts a JSON-tagged response into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
