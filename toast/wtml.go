package toast

import (
	"strings"
	"text/template"
)

// WTMLFields are the caller-settable fields of the WTML descriptor.  Empty
// fields take fixed defaults.  The json tags are the keys job documents
// use.
type WTMLFields struct {
	FolderName   string `json:"folder_name,omitempty"`
	BandPass     string `json:"band_pass,omitempty"`
	Name         string `json:"name,omitempty"`
	Credits      string `json:"credits,omitempty"`
	CreditsUrl   string `json:"credits_url,omitempty"`
	ThumbnailUrl string `json:"thumbnail_url,omitempty"`
}

type wtmlData struct {
	WTMLFields
	Url   string
	Depth int
}

// The WorldWide Telescope client is particular about this document, so it
// is rendered from a fixed template rather than assembled with an XML
// encoder.  The {1}/{3}/{3}_{2} placeholders in Url are the client's own
// path substitution syntax, not ours.
var wtmlTemplate = template.Must(template.New("wtml").Parse(
	`<Folder Name="{{.FolderName}}">
<ImageSet Generic="False" DataSetType="Sky" BandPass="{{.BandPass}}" Name="{{.Name}}" Url="{{.Url}}/{1}/{3}/{3}_{2}.png" BaseTileLevel="0" TileLevels="{{.Depth}}" BaseDegreesPerTile="180" FileType=".png" BottomsUp="False" Projection="Toast" QuadTreeMap="" CenterX="0" CenterY="0" OffsetX="0" OffsetY="0" Rotation="0" Sparse="False" ElevationModel="False">
<Credits> {{.Credits}} </Credits>
<CreditsUrl>{{.CreditsUrl}}</CreditsUrl>
<ThumbnailUrl>{{.ThumbnailUrl}}</ThumbnailUrl>
<Description/>
</ImageSet>
</Folder>`))

// GenWTML renders the WTML descriptor for a pyramid rooted at baseDir with
// the given depth.  Unset fields default to generic skytoast values;
// ThumbnailUrl defaults to empty.
func GenWTML(baseDir string, depth int, fields WTMLFields) string {
	if fields.FolderName == "" {
		fields.FolderName = "Toasty"
	}
	if fields.BandPass == "" {
		fields.BandPass = "Visible"
	}
	if fields.Name == "" {
		fields.Name = "Toasty map"
	}
	if fields.Credits == "" {
		fields.Credits = "Toasty"
	}
	if fields.CreditsUrl == "" {
		fields.CreditsUrl = "http://github.com/ChrisBeaumont/toasty"
	}
	var b strings.Builder
	if err := wtmlTemplate.Execute(&b, wtmlData{fields, baseDir, depth}); err != nil {
		// The template has no failing constructs.
		panic(err)
	}
	return b.String()
}
