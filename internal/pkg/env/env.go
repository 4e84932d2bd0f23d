package env

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

var Env map[string]string

// ErrNoEnvFile is returned when none of the candidate .env files exist.
var ErrNoEnvFile = errors.New("no .env file found in any of the expected locations")

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env file it finds. Containers usually pass
// the configuration through the process environment, so a missing file is
// reported but not fatal.
func SetupEnvFile() error {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/leadhub to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			return nil
		}
	}
	Env = map[string]string{}
	return ErrNoEnvFile
}
