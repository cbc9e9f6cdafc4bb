package domain

import (
	"encoding/json"
	"strings"
)

// Citation is one evidence record attached to findings. LocalID is unique
// only within the producing stage; GlobalID is assigned during consolidation.
// Every other key of the record is kept opaque in SourceMetadata.
type Citation struct {
	LocalID        string
	GlobalID       string
	URL            string
	Title          string
	SourceMetadata map[string]any
}

// Valid reports whether the citation has the minimal shape kept in a
// bibliography: a URL and a title.
func (c Citation) Valid() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Title) != ""
}

// ID returns the global identifier when assigned, otherwise the local one.
func (c Citation) ID() string {
	if c.GlobalID != "" {
		return c.GlobalID
	}
	return c.LocalID
}

// MarshalJSON writes the record flat: "id" carries the global identifier once
// assigned, with the stage-local identifier kept under "local_id".
func (c Citation) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.SourceMetadata)+4)
	for k, v := range c.SourceMetadata {
		out[k] = v
	}
	out["id"] = c.ID()
	if c.GlobalID != "" && c.LocalID != "" {
		out["local_id"] = c.LocalID
	}
	out["url"] = c.URL
	out["title"] = c.Title
	return json.Marshal(out)
}

// UnmarshalJSON accepts both stage output ({"id": local}) and consolidated
// records ({"id": global, "local_id": local}).
func (c *Citation) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Citation{}
	id := stringField(raw, "id")
	if local, ok := raw["local_id"]; ok {
		c.LocalID, _ = local.(string)
		c.GlobalID = id
		delete(raw, "local_id")
	} else {
		c.LocalID = id
	}
	c.URL = stringField(raw, "url")
	c.Title = stringField(raw, "title")
	delete(raw, "id")
	delete(raw, "url")
	delete(raw, "title")
	if len(raw) > 0 {
		c.SourceMetadata = raw
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
