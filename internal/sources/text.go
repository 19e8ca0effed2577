package sources

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	textCardMaxFont   = 200
	textCardMinFont   = 48
	textCardWrapFont  = 160
	textCardWidthFrac = 0.9
	textCardPadFrac   = 0.25
)

// hue offsets: complementary, analogous, triadic, split-complementary
var schemeOffsets = []float64{180, 30, 120, 150}

// TextCard renders the label itself as a square typographic card.
type TextCard struct {
	size int
	font *opentype.Font
	log  zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTextCard builds a renderer for size×size cards. A nil rng is seeded from the clock.
func NewTextCard(size int, rng *rand.Rand, log zerolog.Logger) (*TextCard, error) {
	parsed, err := opentype.Parse(gomonobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse card font: %w", err)
	}
	if size <= 0 {
		size = 768
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>17))
	}
	return &TextCard{size: size, font: parsed, log: log, rng: rng}, nil
}

func (t *TextCard) Kind() Kind { return KindText }

func (t *TextCard) Resolve(_ context.Context, label, _ string) Result {
	data, err := t.RenderPNG(label)
	if err != nil {
		t.log.Warn().Err(err).Str("label", label).Msg("text card render failed")
		return Result{}
	}
	return Result{Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)}
}

// RenderPNG draws label and returns the encoded PNG.
func (t *TextCard) RenderPNG(label string) ([]byte, error) {
	text := strings.ToUpper(strings.Join(strings.Fields(label), " "))
	if text == "" {
		return nil, fmt.Errorf("empty label")
	}

	t.mu.Lock()
	colors := randomPalette(t.rng)
	t.mu.Unlock()

	canvas := image.NewNRGBA(image.Rect(0, 0, t.size, t.size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(colors.background), image.Point{}, draw.Src)

	if err := t.drawText(canvas, text, colors.text); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	if err := encoder.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}

func (t *TextCard) drawText(canvas *image.NRGBA, text string, ink color.NRGBA) error {
	width := float64(t.size)
	maxWidth := width * textCardWidthFrac
	margin := (width - maxWidth) / 2

	wrapFace, err := t.face(textCardWrapFont)
	if err != nil {
		return err
	}
	lines := wrapWords(wrapFace, strings.Split(text, " "), maxWidth)
	_ = wrapFace.Close()

	available := width - width*textCardPadFrac
	gaps := len(lines) - 1
	if gaps < 1 {
		gaps = 1
	}
	lineHeight := available / float64(gaps)
	fontSize := int(math.Min(textCardMaxFont, math.Floor(lineHeight*0.8)))
	if fontSize < textCardMinFont {
		fontSize = textCardMinFont
	}

	var face font.Face
	for {
		face, err = t.face(fontSize)
		if err != nil {
			return err
		}
		if linesFit(face, lines, maxWidth) || fontSize <= textCardMinFont {
			break
		}
		_ = face.Close()
		fontSize -= 2
	}
	defer face.Close()

	metrics := face.Metrics()
	// Baselines are placed so each line's em box is centred on its slot.
	middleOffset := float64(metrics.Ascent-metrics.Descent) / 64 / 2
	startY := (width - lineHeight*float64(len(lines)-1)) / 2

	shadow := color.NRGBA{A: 26}
	for i, line := range lines {
		y := startY + float64(i)*lineHeight + middleOffset
		for _, g := range justify(face, line, margin, maxWidth, width) {
			drawString(canvas, face, shadow, g.text, g.x+2, y+2)
			drawString(canvas, face, ink, g.text, g.x, y)
		}
	}
	return nil
}

func (t *TextCard) face(size int) (font.Face, error) {
	face, err := opentype.NewFace(t.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("card font face: %w", err)
	}
	return face, nil
}

type glyphRun struct {
	text string
	x    float64
}

// justify spreads a line edge to edge: letters for a single word, words otherwise.
// A single character is centred.
func justify(face font.Face, line string, margin, maxWidth, width float64) []glyphRun {
	words := strings.Split(line, " ")
	if len(words) == 1 {
		letters := []rune(words[0])
		if len(letters) <= 1 {
			return []glyphRun{{text: words[0], x: (width - measure(face, words[0])) / 2}}
		}
		total := 0.0
		for _, r := range letters {
			total += measure(face, string(r))
		}
		spacing := (maxWidth - total) / float64(len(letters)-1)
		runs := make([]glyphRun, 0, len(letters))
		x := margin
		for _, r := range letters {
			runs = append(runs, glyphRun{text: string(r), x: x})
			x += measure(face, string(r)) + spacing
		}
		return runs
	}

	total := 0.0
	for _, w := range words {
		total += measure(face, w)
	}
	spacing := (maxWidth - total) / float64(len(words)-1)
	runs := make([]glyphRun, 0, len(words))
	x := margin
	for _, w := range words {
		runs = append(runs, glyphRun{text: w, x: x})
		x += measure(face, w) + spacing
	}
	return runs
}

// wrapWords greedily packs words into lines narrower than maxWidth.
func wrapWords(face font.Face, words []string, maxWidth float64) []string {
	var lines []string
	current := ""
	for _, word := range words {
		if word == "" {
			continue
		}
		if current == "" {
			current = word
			continue
		}
		if measure(face, current+" "+word) < maxWidth {
			current += " " + word
			continue
		}
		lines = append(lines, current)
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func linesFit(face font.Face, lines []string, maxWidth float64) bool {
	for _, line := range lines {
		if measure(face, line) > maxWidth {
			return false
		}
	}
	return true
}

func measure(face font.Face, s string) float64 {
	return float64(font.MeasureString(face, s)) / 64
}

func drawString(dst draw.Image, face font.Face, c color.Color, s string, x, y float64) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)},
	}
	d.DrawString(s)
}

type palette struct {
	background color.NRGBA
	text       color.NRGBA
	dark       bool
}

func randomPalette(rng *rand.Rand) palette {
	baseHue := float64(rng.IntN(360))
	textHue := math.Mod(baseHue+schemeOffsets[rng.IntN(len(schemeOffsets))], 360)
	dark := rng.Float64() < 0.5

	if dark {
		return palette{
			background: hslToRGB(baseHue, 60+rng.Float64()*30, 10+rng.Float64()*10),
			text:       hslToRGB(textHue, 70+rng.Float64()*20, 75+rng.Float64()*15),
			dark:       true,
		}
	}
	return palette{
		background: hslToRGB(baseHue, 50+rng.Float64()*30, 85+rng.Float64()*10),
		text:       hslToRGB(textHue, 70+rng.Float64()*20, 25+rng.Float64()*15),
	}
}

// hslToRGB converts hue in degrees and saturation/lightness in percent.
func hslToRGB(h, s, l float64) color.NRGBA {
	s /= 100
	l /= 100
	a := s * math.Min(l, 1-l)
	f := func(n float64) uint8 {
		k := math.Mod(n+h/30, 12)
		v := l - a*math.Max(-1, math.Min(k-3, math.Min(9-k, 1)))
		return uint8(math.Round(v * 255))
	}
	return color.NRGBA{R: f(0), G: f(8), B: f(4), A: 255}
}
