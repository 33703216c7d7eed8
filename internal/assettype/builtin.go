package assettype

func init() {
	MustRegister(Category{
		Kind:         KindScript,
		Description:  "本地脚本，按路径同步执行",
		ResponseType: ResponseNative,
		Extensions:   []string{".js"},
	})
	MustRegister(Category{
		Kind:         KindText,
		Description:  "UTF-8 文本、XML、着色器源码与字体度量",
		ResponseType: ResponseText,
		Extensions:   []string{".txt", ".xml", ".vsh", ".fsh", ".atlas", ".tmx", ".tsx", ".plist", ".fnt"},
		AllowRemote:  true,
	})
	MustRegister(Category{
		Kind:         KindJSON,
		Description:  "JSON 文档",
		ResponseType: ResponseJSON,
		Extensions:   []string{".json", ".ExportJson"},
		AllowRemote:  true,
	})
	MustRegister(Category{
		Kind:         KindArrayBuffer,
		Description:  "二进制数据与压缩纹理",
		ResponseType: ResponseArrayBuffer,
		Extensions:   []string{".binary", ".bin", ".dbbin", ".pvr", ".pkm"},
		AllowRemote:  true,
	})
	MustRegister(Category{
		Kind:         KindImage,
		Description:  "平台解码的图片",
		ResponseType: ResponseNative,
		Extensions:   []string{".png", ".jpg", ".bmp", ".jpeg", ".gif", ".ico", ".tiff", ".image"},
		AllowRemote:  true,
	})
	MustRegister(Category{
		Kind:         KindWebP,
		Description:  "WebP 图片，仅在平台支持时可用",
		ResponseType: ResponseNative,
		Extensions:   []string{".webp"},
		AllowRemote:  true,
	})
	MustRegister(Category{
		Kind:         KindAudio,
		Description:  "原生音频句柄",
		ResponseType: ResponseNative,
		Extensions:   []string{".mp3", ".ogg", ".wav", ".m4a"},
		AllowRemote:  true,
	})
	MustRegister(Category{
		Kind:         KindVideo,
		Description:  "视频文件路径，由播放器自行打开",
		ResponseType: ResponseNative,
		Extensions:   []string{".mp4", ".avi", ".mov", ".mpg", ".mpeg", ".rm", ".rmvb"},
		AllowRemote:  true,
	})
	MustRegister(Category{
		Kind:         KindFont,
		Description:  "字体文件，返回字体族名称",
		ResponseType: ResponseNative,
		Extensions:   []string{".font", ".eot", ".ttf", ".woff", ".svg", ".ttc"},
		AllowRemote:  true,
	})
}
