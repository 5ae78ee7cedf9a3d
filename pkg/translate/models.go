package translate

import (
	"strings"
	"time"

	"github.com/anthroute/anthroute/pkg/api"
	"github.com/anthroute/anthroute/pkg/compat"
)

// BuildModelsResponse converts the downstream model listing. Display
// names come from the display map, falling back to a titleized form of
// the model ID. A missing created timestamp maps to the epoch.
func BuildModelsResponse(resp *compat.ModelsResponse, display map[string]string) (*api.ModelsResponse, *api.APIError) {
	data := make([]api.ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		name, ok := display[m.ID]
		if !ok {
			name = TitleizeModelID(m.ID)
		}
		if m.Created < 0 {
			return nil, api.NewInvalidRequestError("invalid created timestamp")
		}
		data = append(data, api.ModelInfo{
			ID:          m.ID,
			Type:        "model",
			DisplayName: name,
			CreatedAt:   time.Unix(m.Created, 0).UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return &api.ModelsResponse{Data: data}, nil
}

// TitleizeModelID derives a human-readable name from a model ID.
// Dash-separated segments become words; short alphanumeric segments
// like version tags are uppercased.
func TitleizeModelID(id string) string {
	var out strings.Builder
	for i, part := range strings.Split(id, "-") {
		if i > 0 {
			out.WriteByte(' ')
		}
		if len(part) <= 3 && isASCIIAlnum(part) {
			out.WriteString(strings.ToUpper(part))
			continue
		}
		if part != "" {
			out.WriteString(strings.ToUpper(part[:1]))
			out.WriteString(strings.ToLower(part[1:]))
		}
	}
	return out.String()
}

func isASCIIAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
