package validation

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// MagicWindow is the number of leading bytes used for signature matching.
	MagicWindow = 32

	// ScanWindow is the number of leading bytes callers should supply so script
	// markers and ZIP entry names can be found.
	ScanWindow = 4096
)

// Result is the outcome of content validation.
type Result struct {
	// Detected is the MIME type implied by the payload signature, empty when unknown
	Detected string

	// Declared is the caller-declared MIME type after alias normalization
	Declared string

	// Match reports whether Declared and Detected agree
	Match bool

	// Warnings lists every finding, blocking or not
	Warnings []string

	// Safe is false when the payload must be rejected
	Safe bool
}

// EffectiveType returns the detected type when known and the declared type otherwise.
func (r Result) EffectiveType() string {
	if r.Detected != "" {
		return r.Detected
	}
	return r.Declared
}

const (
	mimeZip  = "application/zip"
	mimeSVG  = "image/svg+xml"
	mimeHTML = "text/html"
	mimePHP  = "application/x-httpd-php"
	mimeSh   = "text/x-shellscript"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

type signature struct {
	mime  string
	match func(magic []byte) bool
}

func prefix(p string) func([]byte) bool {
	return func(b []byte) bool { return bytes.HasPrefix(b, []byte(p)) }
}

func riff(form string) func([]byte) bool {
	return func(b []byte) bool {
		return len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == form
	}
}

// signatures are checked in order; more specific entries come first.
var signatures = []signature{
	{"image/jpeg", prefix("\xFF\xD8\xFF")},
	{"image/png", prefix("\x89PNG\r\n\x1A\n")},
	{"image/gif", func(b []byte) bool { return bytes.HasPrefix(b, []byte("GIF87a")) || bytes.HasPrefix(b, []byte("GIF89a")) }},
	{"image/webp", riff("WEBP")},
	{"audio/wav", riff("WAVE")},
	{"image/tiff", func(b []byte) bool { return bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*")) }},
	{"video/quicktime", isQuickTime},
	{"video/mp4", func(b []byte) bool { return len(b) >= 12 && string(b[4:8]) == "ftyp" }},
	{"application/pdf", prefix("%PDF-")},
	{"application/msword", prefix("\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1")},
	{mimeZip, prefix("PK\x03\x04")},
	{"audio/mpeg", isMP3},
	{"application/x-msdownload", prefix("MZ")},
	{"application/x-executable", prefix("\x7FELF")},
	{"application/x-mach-binary", isMachO},
}

func isQuickTime(b []byte) bool {
	if len(b) < 12 {
		return false
	}
	switch string(b[4:8]) {
	case "ftyp":
		return string(b[8:12]) == "qt  "
	case "moov", "mdat", "wide", "free", "skip", "pnot":
		return true
	}
	return false
}

func isMP3(b []byte) bool {
	if bytes.HasPrefix(b, []byte("ID3")) {
		return true
	}
	if len(b) < 2 || b[0] != 0xFF {
		return false
	}
	switch b[1] {
	case 0xFB, 0xFA, 0xF3, 0xF2, 0xE3, 0xE2:
		return true
	}
	return false
}

func isMachO(b []byte) bool {
	for _, m := range []string{"\xFE\xED\xFA\xCE", "\xFE\xED\xFA\xCF", "\xCE\xFA\xED\xFE", "\xCF\xFA\xED\xFE"} {
		if bytes.HasPrefix(b, []byte(m)) {
			return true
		}
	}
	return false
}

var executableTypes = map[string]bool{
	"application/x-msdownload":                      true,
	"application/x-dosexec":                         true,
	"application/vnd.microsoft.portable-executable": true,
	"application/x-executable":                      true,
	"application/x-elf":                             true,
	"application/x-mach-binary":                     true,
}

var aliases = map[string]string{
	"image/jpg":                    "image/jpeg",
	"image/pjpeg":                  "image/jpeg",
	"image/x-png":                  "image/png",
	"image/tif":                    "image/tiff",
	"image/x-tiff":                 "image/tiff",
	"image/svg":                    mimeSVG,
	"audio/mp3":                    "audio/mpeg",
	"audio/mpeg3":                  "audio/mpeg",
	"audio/x-mp3":                  "audio/mpeg",
	"audio/x-mpeg":                 "audio/mpeg",
	"audio/x-wav":                  "audio/wav",
	"audio/wave":                   "audio/wav",
	"audio/vnd.wave":               "audio/wav",
	"video/mov":                    "video/quicktime",
	"video/x-quicktime":            "video/quicktime",
	"video/x-m4v":                  "video/mp4",
	"application/x-pdf":            "application/pdf",
	"application/vnd.ms-word":      "application/msword",
	"application/x-zip":            mimeZip,
	"application/x-zip-compressed": mimeZip,
	"application/x-dosexec":        "application/x-msdownload",
	"application/x-elf":            "application/x-executable",
}

var extensions = map[string]string{
	"jpg": "image/jpeg", "jpeg": "image/jpeg", "png": "image/png", "gif": "image/gif",
	"webp": "image/webp", "tif": "image/tiff", "tiff": "image/tiff", "svg": mimeSVG,
	"mp4": "video/mp4", "m4v": "video/mp4", "mov": "video/quicktime", "pdf": "application/pdf",
	"doc": "application/msword", "docx": mimeDOCX, "xlsx": mimeXLSX, "pptx": mimePPTX,
	"mp3": "audio/mpeg", "wav": "audio/wav", "zip": mimeZip,
}

// NormalizeType lower-cases t, drops parameters, and resolves aliases and bare
// extensions ("jpg") to a canonical MIME type.
func NormalizeType(t string) string {
	t = baseType(t)
	if t == "" {
		return ""
	}
	if !strings.Contains(t, "/") {
		if m, ok := extensions[strings.TrimPrefix(t, ".")]; ok {
			return m
		}
		return t
	}
	if m, ok := aliases[t]; ok {
		return m
	}
	if _, known := extensions[t]; !known && !isTableType(t) {
		if m := mimetype.Lookup(t); m != nil {
			return baseType(m.String())
		}
	}
	return t
}

func isTableType(t string) bool {
	for _, s := range signatures {
		if s.mime == t {
			return true
		}
	}
	return t == mimeSVG || t == mimeDOCX || t == mimeXLSX || t == mimePPTX
}

func baseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// Detect returns the MIME type implied by the leading bytes of a payload, or ""
// when the signature is not recognised.
func Detect(head []byte) string {
	magic := head
	if len(magic) > MagicWindow {
		magic = magic[:MagicWindow]
	}

	for _, s := range signatures {
		if s.match(magic) {
			if s.mime == mimeZip {
				return refineZip(head)
			}
			return s.mime
		}
	}

	if t := detectText(head); t != "" {
		return t
	}

	if len(head) == 0 {
		return ""
	}
	m := mimetype.Detect(head)
	if m.Is("application/octet-stream") || m.Is("text/plain") {
		return ""
	}
	return baseType(m.String())
}

func refineZip(head []byte) string {
	switch {
	case bytes.Contains(head, []byte("word/")):
		return mimeDOCX
	case bytes.Contains(head, []byte("xl/")):
		return mimeXLSX
	case bytes.Contains(head, []byte("ppt/")):
		return mimePPTX
	default:
		return mimeZip
	}
}

func detectText(head []byte) string {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(head, []byte("\xEF\xBB\xBF")), " \t\r\n")
	lower := bytes.ToLower(trimmed)
	switch {
	case bytes.HasPrefix(lower, []byte("<?php")):
		return mimePHP
	case bytes.HasPrefix(trimmed, []byte("#!")):
		if bytes.Contains(bytes.SplitN(lower, []byte("\n"), 2)[0], []byte("php")) {
			return mimePHP
		}
		return mimeSh
	case bytes.HasPrefix(lower, []byte("<svg")),
		bytes.HasPrefix(lower, []byte("<!doctype svg")),
		bytes.HasPrefix(lower, []byte("<?xml")) && bytes.Contains(lower, []byte("<svg")):
		return mimeSVG
	case bytes.HasPrefix(lower, []byte("<!doctype html")), bytes.HasPrefix(lower, []byte("<html")):
		return mimeHTML
	}
	return ""
}

var scriptMarkers = []string{"<script", "onload=", "onerror=", "onclick=", "onmouseover=", "javascript:", "<foreignobject", "<iframe", "<embed"}

// ValidateContent inspects the leading bytes of a payload against its declared type.
// head should hold up to ScanWindow bytes; only the first MagicWindow bytes are used
// for signature matching. allowed, when non-empty, restricts the accepted types.
func ValidateContent(head []byte, declared string, allowed []string) Result {
	res := Result{
		Declared: NormalizeType(declared),
		Detected: Detect(head),
		Safe:     true,
	}

	switch {
	case res.Detected == "":
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("unrecognized file signature; deferring to declared type %q", res.Declared))
	case res.Declared == "":
		res.Warnings = append(res.Warnings, "content type not declared; using detected type "+res.Detected)
	default:
		res.Match = compatible(res.Declared, res.Detected)
		if !res.Match {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("declared type %s does not match detected type %s", res.Declared, res.Detected))
		}
	}

	res.scan(head)
	res.checkAllowed(allowed)
	return res
}

func (r *Result) block(msg string) {
	r.Safe = false
	r.Warnings = append(r.Warnings, msg)
}

func (r *Result) scan(head []byte) {
	lower := bytes.ToLower(head)

	switch r.Detected {
	case mimeSVG, mimeHTML:
		for _, marker := range scriptMarkers {
			if bytes.Contains(lower, []byte(marker)) {
				if r.Detected == mimeHTML && r.Declared == mimeHTML {
					break
				}
				r.block(fmt.Sprintf("%s contains executable content: %s", r.Detected, marker))
				return
			}
		}
	case mimePHP:
		r.block("payload is a PHP script")
		return
	case mimeSh:
		r.block("payload starts with a shell shebang")
		return
	}

	if executableTypes[r.Detected] && !executableTypes[r.Declared] {
		r.block(fmt.Sprintf("executable header (%s) declared as %q", r.Detected, r.Declared))
		return
	}

	if bytes.Contains(lower, []byte("<?php")) {
		r.block("payload embeds a PHP open tag")
	}
}

func (r *Result) checkAllowed(allowed []string) {
	if len(allowed) == 0 {
		return
	}
	effective := r.EffectiveType()
	for _, a := range allowed {
		a = NormalizeType(a)
		if a == effective || (r.Detected != "" && compatible(a, r.Detected)) {
			return
		}
	}
	r.block(fmt.Sprintf("type %q is not in the allowed list", effective))
}

// compatible reports whether a declared type accepts a detected one.
func compatible(declared, detected string) bool {
	if declared == detected {
		return true
	}
	ooxml := func(t string) bool { return t == mimeDOCX || t == mimeXLSX || t == mimePPTX }
	if detected == mimeZip && ooxml(declared) {
		return true
	}
	if declared == mimeZip && ooxml(detected) {
		return true
	}
	// .m4a and friends share the ISO base media container
	return declared == "audio/mp4" && detected == "video/mp4"
}
