package prompts

import _ "embed"

// Embedded prompt files

//go:embed artifact_system.txt
var artifactSystem string

//go:embed museum_system.txt
var museumSystem string

//go:embed enrich_system.txt
var enrichSystem string

//go:embed wish_system.txt
var wishSystem string

func ArtifactSystem() string { return artifactSystem }
func MuseumSystem() string   { return museumSystem }
func EnrichSystem() string   { return enrichSystem }
func WishSystem() string     { return wishSystem }
