package platform

// Package platform contains external tooling glue: the yt-dlp fetch
// adapter, the ffmpeg/ffprobe concat runner, and download-directory
// helpers (filename sanitizing, cache lookup, per-run cleanup).
