package mime

var extensions = map[string]MIME{
	".avif": AVIF,
	".css":  CSS,
	".gif":  GIF,
	".htm":  HTML,
	".html": HTML,
	".jpeg": JPEG,
	".jpg":  JPEG,
	".js":   JS,
	".mjs":  JS,
	".json": JSON,
	".pdf":  PDF,
	".png":  PNG,
	".svg":  SVG,
	".wasm": WASM,
	".webp": WEBP,
	".xml":  XML,
	".gz":   GZIP,
	".yaml": YAML,
	".yml":  YAML,
	".zip":  ZIP,
	".ico":  ICO,
	".txt":  Plain,
	".mp4":  MP4,
	".mp3":  MP3,
}

var defaultCharset = map[MIME]string{
	CSS:   "utf-8",
	HTML:  "utf-8",
	JS:    "utf-8",
	XML:   "utf-8",
	Plain: "utf-8",
}
