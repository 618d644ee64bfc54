package domain

import "strings"

// GamePackage is the manifest for one title: the current release and an
// optional pre-download of the next one
type GamePackage struct {
	Title       string         `json:"title"`
	Main        PackageBranch  `json:"main"`
	PreDownload *PackageBranch `json:"pre_download,omitempty"`
}

// PackageBranch groups the full package of a version with its incremental
// patches
type PackageBranch struct {
	Major   *GamePackageResource  `json:"major,omitempty"`
	Patches []GamePackageResource `json:"patches,omitempty"`
}

// PatchFrom returns the incremental resource whose base is version
func (b *PackageBranch) PatchFrom(version string) (*GamePackageResource, bool) {
	if b == nil || version == "" {
		return nil, false
	}
	for i := range b.Patches {
		if b.Patches[i].Version == version {
			return &b.Patches[i], true
		}
	}
	return nil, false
}

// GamePackageResource is one installable resource set
type GamePackageResource struct {
	Version       string            `json:"version"`
	GamePackages  []GamePackageFile `json:"game_packages"`
	AudioPackages []GamePackageFile `json:"audio_packages,omitempty"`
	ResListURL    string            `json:"res_list_url,omitempty"`
}

// FilesFor returns the game packages plus the audio packages matching any of
// the given language codes
func (r *GamePackageResource) FilesFor(langs []AudioLanguage) []GamePackageFile {
	files := make([]GamePackageFile, 0, len(r.GamePackages)+len(langs))
	files = append(files, r.GamePackages...)
	for _, f := range r.AudioPackages {
		for _, l := range langs {
			if strings.EqualFold(f.Language, string(l)) {
				files = append(files, f)
				break
			}
		}
	}
	return files
}

// TotalSize returns the download size of the given files
func TotalSize(files []GamePackageFile) (size, decompressed int64) {
	for _, f := range files {
		size += f.Size
		decompressed += f.DecompressedSize
	}
	return size, decompressed
}

// GamePackageFile is one downloadable archive
type GamePackageFile struct {
	URL              string `json:"url"`
	MD5              string `json:"md5"`
	Size             int64  `json:"size"`
	DecompressedSize int64  `json:"decompressed_size"`
	Language         string `json:"language,omitempty"`
}

// AudioLanguage is a voice-over language code
type AudioLanguage string

const (
	AudioChinese  AudioLanguage = "zh-cn"
	AudioEnglish  AudioLanguage = "en-us"
	AudioJapanese AudioLanguage = "ja-jp"
	AudioKorean   AudioLanguage = "ko-kr"
)

// AudioLanguages lists the supported languages in scan file order
var AudioLanguages = []AudioLanguage{AudioChinese, AudioEnglish, AudioJapanese, AudioKorean}

var audioNames = map[AudioLanguage]string{
	AudioChinese:  "Chinese",
	AudioEnglish:  "English(US)",
	AudioJapanese: "Japanese",
	AudioKorean:   "Korean",
}

// ScanName returns the name used in the audio scan file and pkg_version names
func (l AudioLanguage) ScanName() string {
	return audioNames[l]
}

// PkgVersionName returns the audio pkg_version file name for the language
func (l AudioLanguage) PkgVersionName() string {
	return "Audio_" + l.ScanName() + "_pkg_version"
}

// ParseAudioLanguage accepts a language code or scan name
func ParseAudioLanguage(s string) (AudioLanguage, bool) {
	s = strings.TrimSpace(s)
	for _, l := range AudioLanguages {
		if strings.EqualFold(s, string(l)) || strings.EqualFold(s, l.ScanName()) {
			return l, true
		}
	}
	if strings.EqualFold(s, "zh-tw") {
		return AudioChinese, true
	}
	return "", false
}
