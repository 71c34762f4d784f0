package decode

import (
	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/soocke/qrdial-go/domain/capture"
)

// Mode selects the recall/latency trade-off of a decode call.
type Mode int

const (
	// ModeLiveTolerant makes a single normal-polarity attempt on a possibly
	// downscaled frame; used on the poll timer against a live feed.
	ModeLiveTolerant Mode = iota
	// ModeStrictBest tries harder and also scans the inverted image; used
	// for one-shot still images.
	ModeStrictBest
)

func (m Mode) String() string {
	switch m {
	case ModeLiveTolerant:
		return "live"
	case ModeStrictBest:
		return "strict"
	default:
		return "unknown"
	}
}

// DefaultLiveMaxDimension bounds the longest side of frames decoded in
// ModeLiveTolerant.
const DefaultLiveMaxDimension = 1024

// Payload is the text recovered from a code.
type Payload struct {
	Text       string
	Format     string
	Recognized bool
}

// Decoder turns a raster frame into a payload. A false result means no
// code was found, which is not an error.
type Decoder interface {
	Decode(frame capture.Frame, mode Mode) (Payload, bool)
}

// QRDecoder decodes QR codes with gozxing. It is stateless and safe for
// concurrent use: every call builds its own reader.
type QRDecoder struct {
	// LiveMaxDimension downscales larger live frames before decoding; <= 0 disables.
	LiveMaxDimension int
}

func NewQRDecoder(liveMaxDimension int) *QRDecoder {
	return &QRDecoder{LiveMaxDimension: liveMaxDimension}
}

func (d *QRDecoder) Decode(frame capture.Frame, mode Mode) (Payload, bool) {
	if frame.Empty() {
		return Payload{}, false
	}
	img := frame.Image()
	if mode == ModeLiveTolerant && d.LiveMaxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > d.LiveMaxDimension || b.Dy() > d.LiveMaxDimension {
			img = imaging.Fit(img, d.LiveMaxDimension, d.LiveMaxDimension, imaging.Box)
		}
	}
	src := gozxing.NewLuminanceSourceFromImage(img)

	if mode == ModeLiveTolerant {
		return decodeSource(src, nil)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	if p, ok := decodeSource(src, hints); ok {
		return p, true
	}
	return decodeSource(src.Invert(), hints)
}

func decodeSource(src gozxing.LuminanceSource, hints map[gozxing.DecodeHintType]interface{}) (Payload, bool) {
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return Payload{}, false
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil || res == nil {
		return Payload{}, false
	}
	return Payload{Text: res.GetText(), Format: res.GetBarcodeFormat().String(), Recognized: true}, true
}
