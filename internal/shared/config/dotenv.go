package config

import "github.com/joho/godotenv"

// loadEnvFiles loads KEY=VALUE pairs from the given files if they exist.
// Variables already present in the environment are left untouched.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		// godotenv.Load stops at the first missing file, so load one at a time.
		_ = godotenv.Load(path)
	}
}
