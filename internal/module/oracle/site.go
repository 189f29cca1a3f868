package oracle

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/dmrv/internal/apperr"
)

const srid = 4326

// Site is a device's bounding box in WGS84 degrees.
type Site struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

func (s Site) validate(deviceID string) error {
	switch {
	case s.MinLon >= s.MaxLon || s.MinLat >= s.MaxLat:
		return apperr.Newf(apperr.InvalidInput, "device", deviceID, "empty site bounds")
	case s.MinLon < -180 || s.MaxLon > 180 || s.MinLat < -90 || s.MaxLat > 90:
		return apperr.Newf(apperr.InvalidInput, "device", deviceID, "site outside WGS84 range")
	}
	return nil
}

// encode renders the site as an EWKB polygon with SRID 4326.
func (s Site) encode() ([]byte, error) {
	ring := []geom.Coord{
		{s.MinLon, s.MinLat},
		{s.MaxLon, s.MinLat},
		{s.MaxLon, s.MaxLat},
		{s.MinLon, s.MaxLat},
		{s.MinLon, s.MinLat},
	}
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
	if err != nil {
		return nil, eris.Wrap(err, "oracle: build site polygon")
	}
	data, err := ewkb.Marshal(poly.SetSRID(srid), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "oracle: encode site")
	}
	return data, nil
}

// siteBounds decodes an EWKB site into its bounds.
func siteBounds(data []byte) (*geom.Bounds, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "oracle: decode site")
	}
	return g.Bounds(), nil
}

// contains reports whether (lon, lat) lies within the encoded site.
func contains(data []byte, lon, lat float64) (bool, error) {
	b, err := siteBounds(data)
	if err != nil {
		return false, err
	}
	return b.OverlapsPoint(geom.XY, geom.Coord{lon, lat}), nil
}
