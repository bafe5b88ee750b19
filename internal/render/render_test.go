package render

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/park285/cheese-chessroom/internal/rules"
)

func decode(t *testing.T, raw []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

func centerOf(sq rules.Square, flipped bool) image.Point {
	r := screenRect(sq, image.Point{X: sideMargin, Y: topMargin}, flipped)
	return image.Point{X: r.Min.X + squareSize/2, Y: r.Min.Y + squareSize/2}
}

func red(img image.Image, p image.Point) uint32 {
	r, _, _, _ := img.At(p.X, p.Y).RGBA()
	return r >> 8
}

func TestPNGDimensions(t *testing.T) {
	raw, err := PNG(context.Background(), rules.StartingBoard(), Options{Header: "ABC123", Footer: "White to move"})
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	b := decode(t, raw).Bounds()
	if b.Dx() != boardSize+sideMargin*2 || b.Dy() != boardSize+topMargin+bottomMargin {
		t.Fatalf("bounds %v", b)
	}
}

func TestPNGOrientation(t *testing.T) {
	board := rules.StartingBoard()
	topRight := image.Point{X: sideMargin + 7*squareSize + squareSize/2, Y: topMargin + squareSize/2}

	img := decode(t, mustPNG(t, board, Options{}))
	if r := red(img, topRight); r > 80 {
		t.Fatalf("h8 should hold a black rook, red=%d", r)
	}
	img = decode(t, mustPNG(t, board, Options{Flipped: true}))
	if r := red(img, topRight); r < 200 {
		t.Fatalf("flipped top right should hold the white a1 rook, red=%d", r)
	}
}

func TestPNGHighlight(t *testing.T) {
	var board rules.Board
	e4 := rules.MustSquare("e4")
	plain := decode(t, mustPNG(t, board, Options{}))
	lit := decode(t, mustPNG(t, board, Options{Highlight: &Highlight{From: rules.MustSquare("e2"), To: e4}}))
	p := centerOf(e4, false)
	if plain.At(p.X, p.Y) == lit.At(p.X, p.Y) {
		t.Fatalf("highlighted square should change color")
	}
}

func TestPNGCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := PNG(ctx, rules.StartingBoard(), Options{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestPieceSVGCoversAllKinds(t *testing.T) {
	for _, k := range []rules.Kind{rules.Pawn, rules.Knight, rules.Bishop, rules.Rook, rules.Queen, rules.King} {
		for _, c := range []rules.Color{rules.White, rules.Black} {
			if _, err := renderPieceImage(rules.NewPiece(c, k), 32); err != nil {
				t.Fatalf("%s %s: %v", c, k, err)
			}
		}
	}
}

func mustPNG(t *testing.T, b rules.Board, opts Options) []byte {
	t.Helper()
	raw, err := PNG(context.Background(), b, opts)
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	return raw
}
