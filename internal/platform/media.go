package platform

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/font/sfnt"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/any-hub/asset-hub/internal/asseterr"
)

// DefaultFontFamily 是字体加载失败时返回的字体族。
const DefaultFontFamily = "Arial"

// Image 是解码后的图片句柄。
type Image struct {
	Src    string
	Format string
	Width  int
	Height int
	Image  image.Image
}

// ImageLoader 负责把本地文件或网络流解码为图片句柄。
type ImageLoader interface {
	LoadFile(ctx context.Context, path string) (*Image, error)
	LoadStream(ctx context.Context, src string, r io.Reader) (*Image, error)
}

// DecoderImageLoader 基于 image.Decode 实现 ImageLoader，支持 png/jpeg/gif/bmp/tiff/webp。
type DecoderImageLoader struct {
	Fs afero.Fs
}

// LoadFile 读取并解码本地图片。
func (l *DecoderImageLoader) LoadFile(ctx context.Context, path string) (*Image, error) {
	f, err := l.Fs.Open(path)
	if err != nil {
		return nil, asseterr.Wrap(asseterr.KindFileSystem, "image.load", path, err)
	}
	defer f.Close()
	return l.LoadStream(ctx, path, f)
}

// LoadStream 解码任意来源的图片数据，src 仅用于标识。
func (l *DecoderImageLoader) LoadStream(ctx context.Context, src string, r io.Reader) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, asseterr.New(asseterr.KindParse, "image.decode", src, err.Error())
	}
	bounds := img.Bounds()
	return &Image{
		Src:    src,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Image:  img,
	}, nil
}

// Audio 是原生音频句柄，仅持有资源路径。
type Audio struct {
	Src string
}

// NewAudio 构造指向 src 的音频句柄。
func NewAudio(src string) *Audio {
	return &Audio{Src: src}
}

// FontLoader 加载字体文件并返回字体族名称。
type FontLoader interface {
	LoadFont(ctx context.Context, path string) (string, error)
}

// SFNTFontLoader 通过解析 TrueType/OpenType 的 name 表获取字体族。
type SFNTFontLoader struct {
	Fs     afero.Fs
	Logger *logrus.Logger
}

// LoadFont 返回字体族名称；无法解析时返回错误，由调用方回退到默认字体。
func (l *SFNTFontLoader) LoadFont(ctx context.Context, path string) (string, error) {
	data, err := afero.ReadFile(l.Fs, path)
	if err != nil {
		return "", asseterr.Wrap(asseterr.KindFileSystem, "font.load", path, err)
	}

	font, err := sfnt.Parse(data)
	if err != nil {
		coll, collErr := sfnt.ParseCollection(data)
		if collErr != nil || coll.NumFonts() == 0 {
			return "", asseterr.New(asseterr.KindParse, "font.load", path, err.Error())
		}
		font, err = coll.Font(0)
		if err != nil {
			return "", asseterr.New(asseterr.KindParse, "font.load", path, err.Error())
		}
	}

	var buf sfnt.Buffer
	family, err := font.Name(&buf, sfnt.NameIDFamily)
	if err != nil {
		return "", asseterr.New(asseterr.KindParse, "font.name", path, err.Error())
	}
	if l.Logger != nil {
		l.Logger.WithFields(logrus.Fields{"path": path, "family": family}).Debug("font loaded")
	}
	return family, nil
}
