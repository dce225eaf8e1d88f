package rest

import (
	"encoding/json"

	"github.com/trezcool/shule/core/resource"
)

// decodeList normalizes the three list shapes the backend is known to send:
// a bare array, an envelope with a `data` array, or an envelope with an
// entity-named array field (e.g. `{"items": [...]}`). Any other shape
// degrades to an empty page with a logged warning; it is never an error
// that would blank the screen.
func (c *Client) decodeList(raw []byte, name string) resource.Page {
	if len(raw) == 0 {
		return resource.Page{Items: []resource.Record{}}
	}

	var bare []map[string]interface{}
	if err := json.Unmarshal(raw, &bare); err == nil {
		return resource.Page{Items: toRecords(bare)}
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.warnShape(name, "response is neither an array nor an object")
		return resource.Page{Items: []resource.Record{}}
	}

	page := resource.Page{}
	for _, key := range []string{"data", name} {
		if items, ok := envelope[key].([]interface{}); ok {
			page.Items = toRecordsAny(items)
			break
		}
	}
	if page.Items == nil {
		c.warnShape(name, "no recognizable list field in response object")
		page.Items = []resource.Record{}
		return page
	}

	if p, ok := envelope["pagination"].(map[string]interface{}); ok {
		page.Total = intField(p, "total")
		page.Pages = intField(p, "pages")
		page.Page = intField(p, "page")
		page.Limit = intField(p, "limit")
	}
	return page
}

// decodeRecord accepts a bare record object or an envelope with a `data`
// object. A body with neither yields a zero Record; mutation success is
// already decided by the status code.
func (c *Client) decodeRecord(raw []byte, name string) resource.Record {
	if len(raw) == 0 {
		return resource.Record{}
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.warnShape(name, "response is not an object")
		return resource.Record{}
	}
	if data, ok := envelope["data"].(map[string]interface{}); ok {
		return resource.NewRecord(data)
	}
	return resource.NewRecord(envelope)
}

func (c *Client) warnShape(name, detail string) {
	c.log.Warn("unexpected response shape; treating as empty",
		map[string]interface{}{"resource": name, "detail": detail})
}

func toRecords(objs []map[string]interface{}) []resource.Record {
	recs := make([]resource.Record, 0, len(objs))
	for _, obj := range objs {
		recs = append(recs, resource.NewRecord(obj))
	}
	return recs
}

func toRecordsAny(items []interface{}) []resource.Record {
	recs := make([]resource.Record, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			recs = append(recs, resource.NewRecord(obj))
		}
	}
	return recs
}

func intField(obj map[string]interface{}, key string) int {
	if n, ok := obj[key].(float64); ok {
		return int(n)
	}
	return 0
}
