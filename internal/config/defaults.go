package config

// ImageExtensions are the file extensions treated as images when enumerating
// and watching project directories.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".webp", ".tiff"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.ImageRoot == "" {
		cfg.Storage.ImageRoot = "/usr/local/var/vismatch/images"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/vismatch/data/fingerprints.db"
	}
	if cfg.Fingerprint.Type == "" {
		cfg.Fingerprint.Type = "difference"
	}
	if cfg.Fingerprint.HashSize == 0 {
		cfg.Fingerprint.HashSize = 16
	}
	if cfg.Fingerprint.Dimensions == 0 {
		cfg.Fingerprint.Dimensions = 512
	}
	if cfg.Search.Metric == "" {
		cfg.Search.Metric = "cosine"
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 3
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Registry.IdleTTLMinutes > 0 && cfg.Registry.SweepIntervalMinutes == 0 {
		cfg.Registry.SweepIntervalMinutes = 5
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), ImageExtensions...)
	}
}
