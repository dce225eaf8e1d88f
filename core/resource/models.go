package resource

import (
	"context"
	"net/url"
	"strconv"
)

type (
	// Record is an opaque backend entity: an identity plus a bag of business
	// fields the engine never interprets. The id is the list key and the
	// update/delete target; it is never mutated.
	Record struct {
		ID     string
		Fields map[string]interface{}
	}

	// Page is one fetched page of records with pagination totals. Total and
	// Pages are derived from the row count when the backend sends no
	// pagination envelope.
	Page struct {
		Items []Record
		Total int
		Pages int
		Page  int
		Limit int
	}

	// Backend performs the HTTP exchanges of the generic resource contract.
	// Implemented by services/rest.
	Backend interface {
		List(ctx context.Context, name string, query url.Values) (Page, error)
		Create(ctx context.Context, name string, fields map[string]interface{}) (Record, error)
		Update(ctx context.Context, name, id string, fields map[string]interface{}) (Record, error)
		Delete(ctx context.Context, name, id string) error
		Search(ctx context.Context, name, query string) ([]Record, error)
	}
)

// NewRecord builds a Record from a decoded JSON object, extracting the
// identity from the conventional id keys. Records missing an id can still be
// listed but cannot be edited or deleted.
func NewRecord(obj map[string]interface{}) Record {
	rec := Record{Fields: obj}
	for _, key := range []string{"id", "_id"} {
		switch v := obj[key].(type) {
		case string:
			rec.ID = v
		case float64:
			rec.ID = trimFloat(v)
		}
		if rec.ID != "" {
			break
		}
	}
	return rec
}

// Field returns the named business field, or nil when absent.
func (r Record) Field(name string) interface{} {
	return r.Fields[name]
}

// StringField returns the named field rendered as a string, or "" when
// absent or of another kind.
func (r Record) StringField(name string) string {
	switch v := r.Fields[name].(type) {
	case string:
		return v
	case float64:
		return trimFloat(v)
	}
	return ""
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
