package resources

import "embed"

//go:embed i18n/*.yml web/*.html
var FS embed.FS
