// Package metafile implements the Meta-file extractor: recognizing a
// submission's content type as tag data and parsing it into
// (target-URI, field, value) triples. Unknown or malformed payloads
// yield zero tags rather than failing the submission.
package metafile

import (
	"bufio"
	"bytes"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MIME types this repository recognizes as meta-file containers.
const (
	MIMELineOriented = "text/x-sln-meta"
	MIMEJSON         = "application/vnd.sln.meta+json"
)

// Tag is a single (field, value) pair extracted from a meta-file, still
// missing the source-meta-file-id the repository assigns at commit time.
type Tag struct {
	Field string
	Value string
}

// IsMetaFileType reports whether mimeType names a recognized meta-file
// format.
func IsMetaFileType(mimeType string) bool {
	switch mimeType {
	case MIMELineOriented, MIMEJSON:
		return true
	default:
		return false
	}
}

// Parse extracts a target URI and tag list from data, dispatching on
// mimeType. A malformed or unrecognized payload returns a zero target
// and no tags, never an error — extraction failure must not fail the
// owning submission.
func Parse(mimeType string, data []byte) (target string, tags []Tag) {
	switch mimeType {
	case MIMELineOriented:
		return parseLineOriented(data)
	case MIMEJSON:
		return parseJSON(data)
	default:
		return "", nil
	}
}

// parseLineOriented reads "field: value" lines, one per line. The first
// line must be "target: <uri>"; subsequent lines are tags. Blank lines
// and lines without a colon are skipped.
func parseLineOriented(data []byte) (target string, tags []Tag) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		field := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if field == "" || value == "" {
			continue
		}
		if field == "target" && target == "" {
			target = value
			continue
		}
		tags = append(tags, Tag{Field: field, Value: value})
	}
	if sc.Err() != nil {
		return "", nil
	}
	return target, tags
}

type jsonDoc struct {
	Target string              `json:"target"`
	Tags   map[string][]string `json:"tags"`
}

func parseJSON(data []byte) (target string, tags []Tag) {
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil
	}
	if doc.Target == "" {
		return "", nil
	}
	for field, values := range doc.Tags {
		for _, v := range values {
			if field == "" || v == "" {
				continue
			}
			tags = append(tags, Tag{Field: field, Value: v})
		}
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Field != tags[j].Field {
			return tags[i].Field < tags[j].Field
		}
		return tags[i].Value < tags[j].Value
	})
	return doc.Target, tags
}
