package domain

// Region selects naming conventions that differ between server regions
type Region string

const (
	RegionCN     Region = "cn"
	RegionGlobal Region = "global"
)

// Title is one game/region combination managed by the launcher
type Title struct {
	ID            string `mapstructure:"id" json:"id"`
	Name          string `mapstructure:"name" json:"name"`
	ManifestURL   string `mapstructure:"manifest_url" json:"manifest_url"`
	InstallPath   string `mapstructure:"install_path" json:"install_path"`
	DataDir       string `mapstructure:"data_dir" json:"data_dir,omitempty"`
	AudioScanFile string `mapstructure:"audio_scan_file" json:"audio_scan_file,omitempty"`
	Region        Region `mapstructure:"region" json:"region,omitempty"`
}

// FindTitle returns the configured title with the given ID
func (c *Config) FindTitle(id string) (Title, bool) {
	for _, t := range c.Titles {
		if t.ID == id {
			return t, true
		}
	}
	return Title{}, false
}
