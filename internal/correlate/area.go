package correlate

import (
	"encoding/hex"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/hunter-cli/internal/scan"
)

// Area is the bounding envelope of the scanned points of a report.
type Area struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
	Points int     `json:"points"`
	// EWKB is the hex EWKB (SRID 4326) multipoint of the scanned cells.
	EWKB string `json:"ewkb"`
}

// scanArea returns nil when no scanned cell carries coordinates.
func scanArea(cells map[string]scan.ScanMeta) (*Area, error) {
	ids := make([]string, 0, len(cells))
	for id, m := range cells {
		if m.HasCoordinates() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	flat := make([]float64, 0, 2*len(ids))
	for _, id := range ids {
		m := cells[id]
		flat = append(flat, *m.Longitude, *m.Latitude)
	}
	mp := geom.NewMultiPointFlat(geom.XY, flat).SetSRID(4326)

	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "correlate: encode scan area")
	}

	b := mp.Bounds()
	return &Area{
		MinLon: b.Min(0),
		MinLat: b.Min(1),
		MaxLon: b.Max(0),
		MaxLat: b.Max(1),
		Points: len(ids),
		EWKB:   hex.EncodeToString(data),
	}, nil
}
