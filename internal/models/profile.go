package models

import "encoding/json"

// Profile is author metadata decoded from a profile record's JSON content.
// Every field is optional; unknown fields are ignored.
type Profile struct {
	Author  string `json:"author"`
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
	Banner  string `json:"banner,omitempty"`
	Website string `json:"website,omitempty"`
}

// ProfileFromRecord decodes a profile from a record's content. Malformed
// content yields an empty profile for the author rather than an error.
func ProfileFromRecord(r RawRecord) Profile {
	var p Profile
	_ = json.Unmarshal([]byte(r.Content), &p)
	p.Author = r.Author
	return p
}
