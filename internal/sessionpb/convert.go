package sessionpb

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/coedit/internal/model"
)

// String returns the string field key of s, or "".
func String(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Bool returns the bool field key of s, or false.
func Bool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// Strings returns the list field key of s as strings, skipping non-string
// elements.
func Strings(s *structpb.Struct, key string) []string {
	values := s.GetFields()[key].GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, v := range values {
		if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out = append(out, sv.StringValue)
		}
	}
	return out
}

// NewStruct builds a Struct from a map of JSON-compatible values. It panics
// on unsupported value types, which indicates a programming error.
func NewStruct(fields map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		panic(fmt.Sprintf("sessionpb: %v", err))
	}
	return s
}

// StringList converts names to a value list usable in NewStruct.
func StringList(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// SessionMap returns the wire fields of a session, usable as a value in
// NewStruct.
func SessionMap(s *model.Session) map[string]any {
	return map[string]any{
		"id":         s.ID,
		"creator_id": s.CreatorID,
		"code":       s.Code,
		"locked":     s.Locked,
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// SessionToStruct converts a session to its wire form.
func SessionToStruct(s *model.Session) *structpb.Struct {
	return NewStruct(SessionMap(s))
}

// SessionsToValue converts sessions to a list usable in NewStruct.
func SessionsToValue(sessions []*model.Session) []any {
	out := make([]any, len(sessions))
	for i, s := range sessions {
		out[i] = SessionMap(s)
	}
	return out
}

// SessionFromStruct converts a wire session back to the model type.
func SessionFromStruct(s *structpb.Struct) (*model.Session, error) {
	if s == nil {
		return nil, fmt.Errorf("missing session")
	}
	sess := &model.Session{
		ID:        String(s, "id"),
		CreatorID: String(s, "creator_id"),
		Code:      String(s, "code"),
		Locked:    Bool(s, "locked"),
	}
	var err error
	if sess.CreatedAt, err = parseTime(String(s, "created_at")); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(String(s, "updated_at")); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return sess, nil
}

// SessionsFromStruct decodes the list field key of s.
func SessionsFromStruct(s *structpb.Struct, key string) ([]*model.Session, error) {
	values := s.GetFields()[key].GetListValue().GetValues()
	out := make([]*model.Session, 0, len(values))
	for _, v := range values {
		sess, err := SessionFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
