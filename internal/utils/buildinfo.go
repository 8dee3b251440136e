package utils

import (
	"runtime/debug"
)

const (
	unknownVersion         = "unknown"
	develVersion           = "(devel)"
	revisionSettingKey     = "vcs.revision"
	modifiedSettingKey     = "vcs.modified"
	dirtyVersionSuffix     = "-dirty"
	shortRevisionCharacter = 12
)

// applicationVersion is injected at link time:
//
//	go build -ldflags "-X github.com/temirov/ctxload/internal/utils.applicationVersion=v1.2.3"
var applicationVersion string

// GetApplicationVersion returns the linked version, the module version of the
// build, or the VCS revision stamped into the binary. The working directory
// is never consulted: ctxload runs inside other repositories.
func GetApplicationVersion() string {
	buildInfo, _ := debug.ReadBuildInfo()
	return resolveVersion(applicationVersion, buildInfo)
}

func resolveVersion(injected string, buildInfo *debug.BuildInfo) string {
	if injected != "" {
		return injected
	}
	if buildInfo == nil {
		return unknownVersion
	}
	if version := buildInfo.Main.Version; version != "" && version != develVersion {
		return version
	}
	var revision string
	var modified bool
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case revisionSettingKey:
			revision = setting.Value
		case modifiedSettingKey:
			modified = setting.Value == "true"
		}
	}
	if revision == "" {
		return unknownVersion
	}
	if len(revision) > shortRevisionCharacter {
		revision = revision[:shortRevisionCharacter]
	}
	if modified {
		revision += dirtyVersionSuffix
	}
	return revision
}
