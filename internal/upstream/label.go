package upstream

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// UnknownLabel is reported when a classifier response carries no usable label.
const UnknownLabel = "Unknown"

// LabelKind records which response shape a label was read from.
type LabelKind string

const (
	LabelJSON    LabelKind = "json"
	LabelText    LabelKind = "text"
	LabelUnknown LabelKind = "unknown"
)

// Label is the parsed classifier output.
type Label struct {
	Kind          LabelKind
	Name          string
	Confidence    float64
	HasConfidence bool
}

// labelKeys are tried in order; deployed classifiers disagree on the name.
var labelKeys = []string{"prediction", "status", "Prediction"}

var textLabel = regexp.MustCompile(`Prediction:\s*([^\s(]+)(?:\s*\(\s*Confidence:\s*([0-9]*\.?[0-9]+)\s*\))?`)

// ParseLabel extracts the predicted label from a classifier response body.
//
// A JSON object yields the first non-empty string among "prediction",
// "status" and "Prediction". Anything else is searched for the text form
// "Prediction: <label> (Confidence: <num>)". When neither works the label is
// UnknownLabel.
func ParseLabel(body []byte) Label {
	if gjson.ValidBytes(body) {
		doc := gjson.ParseBytes(body)
		if doc.IsObject() {
			for _, key := range labelKeys {
				v := doc.Get(key)
				if v.Type != gjson.String {
					continue
				}
				name := strings.TrimSpace(v.Str)
				if name == "" {
					continue
				}
				l := Label{Kind: LabelJSON, Name: name}
				if c := doc.Get("confidence"); c.Type == gjson.Number {
					l.Confidence = c.Float()
					l.HasConfidence = true
				}
				return l
			}
			return Label{Kind: LabelUnknown, Name: UnknownLabel}
		}
		// A bare JSON string may itself be the text form.
		if doc.Type == gjson.String {
			body = []byte(doc.Str)
		}
	}

	if m := textLabel.FindSubmatch(body); m != nil {
		l := Label{Kind: LabelText, Name: string(m[1])}
		if len(m[2]) > 0 {
			if c, err := strconv.ParseFloat(string(m[2]), 64); err == nil {
				l.Confidence = c
				l.HasConfidence = true
			}
		}
		return l
	}

	return Label{Kind: LabelUnknown, Name: UnknownLabel}
}
