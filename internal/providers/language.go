package providers

import (
	"path/filepath"
	"strings"
)

// Language is a source language understood by the tree-sitter provider.
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
)

// LanguageFromPath maps a file extension onto a supported language.
func LanguageFromPath(path string) (Language, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return LangGo, true
	case ".py":
		return LangPython, true
	case ".js", ".jsx", ".mjs", ".cjs":
		return LangJavaScript, true
	case ".ts", ".mts", ".cts":
		return LangTypeScript, true
	case ".tsx":
		return LangTSX, true
	default:
		return "", false
	}
}
