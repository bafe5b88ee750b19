// Package render draws a board position as a PNG.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-chessroom/internal/rules"
)

type Highlight struct {
	From rules.Square
	To   rules.Square
}

type Options struct {
	// Flipped puts black at the bottom.
	Flipped   bool
	Highlight *Highlight
	Header    string
	Footer    string
}

const (
	squareSize   = 64
	boardSize    = squareSize * 8
	sideMargin   = 28
	topMargin    = 48
	bottomMargin = 48
	panelRadius  = 8
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	highlightFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	panelColor      = color.NRGBA{R: 40, G: 44, B: 64, A: 250}
	textPrimary     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordinateColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

// PNG renders b with optional header and footer captions.
func PNG(ctx context.Context, b rules.Board, opts Options) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	width := boardSize + sideMargin*2
	height := boardSize + topMargin + bottomMargin
	origin := image.Point{X: sideMargin, Y: topMargin}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawSquares(img, origin, opts.Flipped)
	if h := opts.Highlight; h != nil && h.From.Valid() && h.To.Valid() {
		drawSquareOverlay(img, screenRect(h.From, origin, opts.Flipped), highlightFill)
		drawSquareOverlay(img, screenRect(h.To, origin, opts.Flipped), highlightFill)
	}
	if err := drawPieces(img, &b, origin, opts.Flipped); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, opts.Flipped)
	drawCaption(img, opts.Header, image.Rect(origin.X, 8, origin.X+boardSize, topMargin-12))
	drawCaption(img, opts.Footer, image.Rect(origin.X, origin.Y+boardSize+20, origin.X+boardSize, height-6))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// screenRect maps a board square to its pixel rectangle.
func screenRect(sq rules.Square, origin image.Point, flipped bool) image.Rectangle {
	row, col := sq.Row, sq.Col
	if flipped {
		row, col = 7-row, 7-col
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawSquares(dst imagedraw.Image, origin image.Point, flipped bool) {
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			sq := rules.Sq(row, col)
			clr := lightSquare
			if (row+col)%2 == 1 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, screenRect(sq, origin, flipped), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, b *rules.Board, origin image.Point, flipped bool) error {
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			sq := rules.Sq(row, col)
			p := b.At(sq)
			if p.IsEmpty() {
				continue
			}
			img, err := renderPieceImage(p, squareSize)
			if err != nil {
				return err
			}
			imagedraw.Draw(dst, screenRect(sq, origin, flipped), img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func drawSquareOverlay(img *image.RGBA, rect image.Rectangle, clr color.Color) {
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawCoordinates(dst imagedraw.Image, origin image.Point, flipped bool) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Face: face, Src: image.NewUniform(coordinateColor)}
	ascent := face.Metrics().Ascent.Ceil()

	for i := 0; i < 8; i++ {
		rankSq := rules.Sq(i, 0)
		fileSq := rules.Sq(7, i)
		if flipped {
			rankSq = rules.Sq(7-i, 0)
			fileSq = rules.Sq(0, 7-i)
		}
		alg := rankSq.Algebraic()
		rankCenterY := origin.Y + i*squareSize + squareSize/2
		drawCenteredText(drawer, alg[1:], origin.X-sideMargin/2, rankCenterY+ascent/2)

		alg = fileSq.Algebraic()
		fileCenterX := origin.X + i*squareSize + squareSize/2
		drawCenteredText(drawer, alg[:1], fileCenterX, origin.Y+boardSize+ascent+2)
	}
}

func drawCaption(img *image.RGBA, text string, rect image.Rectangle) {
	text = strings.TrimSpace(text)
	if text == "" || rect.Empty() {
		return
	}
	drawRoundedPanel(img, rect, panelRadius, panelColor)
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(textPrimary)}
	text = truncateWithEllipsis(face, text, rect.Dx()-16)
	metrics := face.Metrics()
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawCenteredText(drawer, text, rect.Min.X+rect.Dx()/2, baseline)
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	drawer := font.Drawer{Face: face}
	if maxWidth <= 0 || drawer.MeasureString(text).Round() <= maxWidth {
		return text
	}
	const ellipsis = "..."
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + ellipsis
		if drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return ellipsis
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if maxRadius := min(rect.Dx(), rect.Dy()) / 2; radius > maxRadius {
		radius = maxRadius
	}
	fill := image.NewUniform(clr)
	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	corners := []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	}
	for _, c := range corners {
		drawDisc(img, c, radius, clr)
	}
}

func drawDisc(img *image.RGBA, center image.Point, radius int, clr color.Color) {
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > r2 {
				continue
			}
			p := image.Point{X: center.X + x, Y: center.Y + y}
			if !p.In(img.Bounds()) {
				continue
			}
			img.Set(p.X, p.Y, clr)
		}
	}
}
