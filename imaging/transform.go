package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"github.com/disintegration/gift"
)

const (
	MaxImageWidth  = 4000
	MaxImageHeight = 4000
	JPEGQuality    = 90
	MaxBlurRadius  = 50
	MaxBrightness  = 100
	MaxContrast    = 100
	MaxSaturation  = 200
	MaxPixelate    = 50
)

var supportedFilters = map[string]bool{
	"resize":              true,
	"crop_to_size":        true,
	"rotate":              true,
	"brightness_increase": true,
	"brightness_decrease": true,
	"contrast_increase":   true,
	"contrast_decrease":   true,
	"saturation_increase": true,
	"saturation_decrease": true,
	"gaussian_blur":       true,
	"pixelate":            true,
	"grayscale":           true,
	"invert":              true,
}

type FilterError struct {
	FilterName string
	Message    string
}

func (e FilterError) Error() string {
	return fmt.Sprintf("filter '%s': %s", e.FilterName, e.Message)
}

// Transform decodes payload, applies the filters named in params, and
// re-encodes in the original format. The stored payload is never
// modified; callers get a fresh buffer. Unknown query parameters are
// ignored; a known filter with a bad value is an error.
func Transform(payload []byte, mimeType string, params map[string]string) ([]byte, error) {
	filters, err := parseFilters(params)
	if err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Dx() > MaxImageWidth || bounds.Dy() > MaxImageHeight {
		return nil, FilterError{"transform", fmt.Sprintf("image too large (max %dx%d)", MaxImageWidth, MaxImageHeight)}
	}

	g := gift.New(filters...)
	dst := image.NewRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)

	return encode(dst, mimeType)
}

// HasFilterParams reports whether any supported filter name appears in
// the query parameters.
func HasFilterParams(params map[string]string) bool {
	for name := range params {
		if supportedFilters[name] {
			return true
		}
	}
	return false
}

func parseFilters(params map[string]string) ([]gift.Filter, error) {
	var filters []gift.Filter

	for name, param := range params {
		if !supportedFilters[name] {
			continue
		}
		f, err := createFilter(name, param)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	if len(filters) == 0 {
		return nil, fmt.Errorf("no valid filters specified")
	}
	return filters, nil
}

func createFilter(filterName, param string) (gift.Filter, error) {
	switch filterName {
	case "resize":
		width, height, err := parseDimensions(param, filterName)
		if err != nil {
			return nil, err
		}
		return gift.Resize(width, height, gift.LanczosResampling), nil

	case "crop_to_size":
		width, height, err := parseDimensions(param, filterName)
		if err != nil {
			return nil, err
		}
		return gift.CropToSize(width, height, gift.CenterAnchor), nil

	case "rotate":
		degree, err := parseFloatParam(param, "rotation angle", -360, 360)
		if err != nil {
			return nil, FilterError{filterName, err.Error()}
		}
		return gift.Rotate(degree, color.Transparent, gift.CubicInterpolation), nil

	case "brightness_increase":
		value, err := parseFloatParam(param, "brightness", 0, MaxBrightness)
		if err != nil {
			return nil, FilterError{filterName, err.Error()}
		}
		return gift.Brightness(value), nil

	case "brightness_decrease":
		value, err := parseFloatParam(param, "brightness", 0, MaxBrightness)
		if err != nil {
			return nil, FilterError{filterName, err.Error()}
		}
		return gift.Brightness(-value), nil

	case "contrast_increase":
		value, err := parseFloatParam(param, "contrast", 0, MaxContrast)
		if err != nil {
			return nil, FilterError{filterName, err.Error()}
		}
		return gift.Contrast(value), nil

	case "contrast_decrease":
		value, err := parseFloatParam(param, "contrast", 0, MaxContrast)
		if err != nil {
			return nil, FilterError{filterName, err.Error()}
		}
		return gift.Contrast(-value), nil

	case "saturation_increase":
		value, err := parseFloatParam(param, "saturation", 0, MaxSaturation)
		if err != nil {
			return nil, FilterError{filterName, err.Error()}
		}
		return gift.Saturation(value), nil

	case "saturation_decrease":
		value, err := parseFloatParam(param, "saturation", 0, MaxSaturation)
		if err != nil {
			return nil, FilterError{filterName, err.Error()}
		}
		return gift.Saturation(-value), nil

	case "gaussian_blur":
		value, err := parseFloatParam(param, "blur radius", 0.1, MaxBlurRadius)
		if err != nil {
			return nil, FilterError{filterName, err.Error()}
		}
		return gift.GaussianBlur(value), nil

	case "pixelate":
		value, err := parseIntParam(param, "pixelate size")
		if err != nil {
			return nil, FilterError{filterName, err.Error()}
		}
		if value > MaxPixelate {
			return nil, FilterError{filterName, fmt.Sprintf("pixelate size too large (max %d)", MaxPixelate)}
		}
		return gift.Pixelate(value), nil

	case "grayscale":
		return gift.Grayscale(), nil

	case "invert":
		return gift.Invert(), nil

	default:
		return nil, FilterError{filterName, "unsupported filter"}
	}
}

func parseIntParam(param, paramName string) (int, error) {
	if param == "" {
		return 0, fmt.Errorf("%s parameter is required", paramName)
	}

	value, err := strconv.Atoi(param)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be an integer", paramName)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must be positive", paramName)
	}
	return value, nil
}

func parseFloatParam(param, paramName string, min, max float32) (float32, error) {
	if param == "" {
		return 0, fmt.Errorf("%s parameter is required", paramName)
	}

	value, err := strconv.ParseFloat(param, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be a number", paramName)
	}

	floatVal := float32(value)
	if floatVal < min || floatVal > max {
		return 0, fmt.Errorf("%s must be between %.1f and %.1f", paramName, min, max)
	}
	return floatVal, nil
}

func parseDimensions(param, filterName string) (int, int, error) {
	if param == "" {
		return 0, 0, FilterError{filterName, "dimensions parameter is required"}
	}

	parts := strings.Split(param, "x")
	if len(parts) != 2 {
		return 0, 0, FilterError{filterName, "dimensions must be in format 'widthxheight'"}
	}

	width, err := parseIntParam(parts[0], "width")
	if err != nil {
		return 0, 0, FilterError{filterName, err.Error()}
	}
	height, err := parseIntParam(parts[1], "height")
	if err != nil {
		return 0, 0, FilterError{filterName, err.Error()}
	}

	if width > MaxImageWidth || height > MaxImageHeight {
		return 0, 0, FilterError{filterName, fmt.Sprintf("dimensions too large (max %dx%d)", MaxImageWidth, MaxImageHeight)}
	}
	return width, height, nil
}

func encode(img image.Image, mimeType string) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch mimeType {
	case "image/png":
		err = png.Encode(&buf, img)
	case "image/gif":
		err = gif.Encode(&buf, img, nil)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
