// Package render draws battle snapshots as images for the HTTP adapter.
package render

import (
	"image"
	"image/color"
	"io"

	"github.com/fogleman/gg"

	"valley-of-ashes/internal/game"
)

// DefaultMinimapWidth is the output width in pixels when none is requested.
const DefaultMinimapWidth = 300

var (
	groundColor   = color.NRGBA{46, 52, 40, 255}
	cliffColor    = color.NRGBA{24, 24, 28, 255}
	riftColor     = color.NRGBA{90, 30, 20, 255}
	crossingColor = color.NRGBA{110, 95, 70, 255}
	laneColor     = color.NRGBA{140, 130, 100, 90}
	keepColor     = color.NRGBA{70, 70, 80, 255}
	deadColor     = color.NRGBA{120, 120, 120, 140}
	neutralColor  = color.NRGBA{200, 200, 200, 255}
)

// FactionColor returns the display color of a faction name.
func FactionColor(f string) color.NRGBA {
	switch f {
	case game.FactionPlayer.String():
		return color.NRGBA{70, 140, 255, 255}
	case game.FactionEnemy.String():
		return color.NRGBA{255, 70, 60, 255}
	}
	return neutralColor
}

// Minimap renders snapshots over a terrain background drawn once.
// Safe for concurrent use: every Render gets its own gg.Context.
type Minimap struct {
	width  int
	height int
	scale  float64
	base   image.Image
}

// NewMinimap pre-renders the static terrain of layout at the given width.
// Height follows the map aspect ratio.
func NewMinimap(layout game.MapLayout, width int) *Minimap {
	if width <= 0 {
		width = DefaultMinimapWidth
	}
	scale := float64(width) / layout.Width
	height := int(layout.Height*scale + 0.5)
	if height < 1 {
		height = 1
	}

	m := &Minimap{width: width, height: height, scale: scale}
	m.base = m.drawTerrain(layout)
	return m
}

// Size returns the output dimensions in pixels.
func (m *Minimap) Size() (width, height int) {
	return m.width, m.height
}

func (m *Minimap) drawTerrain(layout game.MapLayout) image.Image {
	dc := gg.NewContext(m.width, m.height)

	dc.SetColor(groundColor)
	dc.DrawRectangle(0, 0, float64(m.width), float64(m.height))
	dc.Fill()

	m.fillRect(dc, layout.Rift, riftColor)
	for _, r := range layout.Crossings {
		m.fillRect(dc, r, crossingColor)
	}
	for _, r := range layout.Cliffs {
		m.fillRect(dc, r, cliffColor)
	}
	for _, r := range layout.Keeps {
		m.fillRect(dc, r, keepColor)
	}

	dc.SetColor(laneColor)
	dc.SetLineWidth(2)
	for _, lane := range game.Lanes {
		path := layout.Lanes[lane.String()]
		for i := 1; i < len(path); i++ {
			dc.DrawLine(path[i-1].X*m.scale, path[i-1].Y*m.scale, path[i].X*m.scale, path[i].Y*m.scale)
			dc.Stroke()
		}
	}
	return dc.Image()
}

// Render draws snap over the terrain. A nil snapshot yields bare terrain.
func (m *Minimap) Render(snap *game.BattleSnapshot) image.Image {
	return m.draw(snap).Image()
}

// EncodePNG renders snap and writes it to w as PNG.
func (m *Minimap) EncodePNG(w io.Writer, snap *game.BattleSnapshot) error {
	return m.draw(snap).EncodePNG(w)
}

func (m *Minimap) draw(snap *game.BattleSnapshot) *gg.Context {
	dc := gg.NewContextForImage(m.base)
	if snap == nil {
		return dc
	}

	for _, b := range snap.Bunkers {
		c := FactionColor(b.Owner)
		if b.State == game.BunkerDestroyed.String() {
			c = deadColor
		}
		c.A = 160
		for _, w := range b.Walls {
			m.fillRect(dc, w, c)
		}
	}

	for _, g := range snap.Graveyards {
		m.drawGraveyard(dc, g)
	}

	for _, t := range snap.Towers {
		m.drawTower(dc, t)
	}

	for _, u := range snap.Units {
		if u.State == game.StateDead.String() || u.State == game.StateRespawning.String() {
			continue
		}
		r := 1.5
		if u.Type == game.UnitBoss.String() {
			r = 4
		}
		dc.SetColor(FactionColor(u.Faction))
		dc.DrawCircle(u.X*m.scale, u.Y*m.scale, r)
		dc.Fill()
	}

	return dc
}

func (m *Minimap) drawTower(dc *gg.Context, t game.TowerSnapshot) {
	x, y := t.X*m.scale, t.Y*m.scale
	const size = 6.0

	switch t.State {
	case game.TowerDestroyed.String():
		dc.SetColor(deadColor)
		dc.DrawRectangle(x-size/2, y-size/2, size, size)
		dc.Fill()
		return
	case game.TowerVulnerable.String():
		// Flash ring while the occupy timer runs.
		dc.SetColor(color.NRGBA{255, 200, 40, 255})
		dc.SetLineWidth(1.5)
		dc.DrawCircle(x, y, size)
		dc.Stroke()
	}

	dc.SetColor(FactionColor(t.Owner))
	dc.DrawRectangle(x-size/2, y-size/2, size, size)
	dc.Fill()
}

func (m *Minimap) drawGraveyard(dc *gg.Context, g game.GraveyardSnapshot) {
	x, y := g.X*m.scale, g.Y*m.scale
	const r = 4.0

	dc.SetColor(FactionColor(g.Owner))
	dc.DrawCircle(x, y, r)
	dc.Fill()

	if g.Progress > 0 && g.CaptureTimeS > 0 {
		// Capture arc, clockwise from twelve o'clock.
		frac := g.Progress / g.CaptureTimeS
		if frac > 1 {
			frac = 1
		}
		dc.SetColor(FactionColor(g.Capturer))
		dc.SetLineWidth(2)
		dc.DrawArc(x, y, r+2.5, gg.Radians(-90), gg.Radians(-90+360*frac))
		dc.Stroke()
	}
}

func (m *Minimap) fillRect(dc *gg.Context, r game.Rect, c color.Color) {
	dc.SetColor(c)
	dc.DrawRectangle(r.X*m.scale, r.Y*m.scale, r.W*m.scale, r.H*m.scale)
	dc.Fill()
}
