package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	EnvironmentVariablePrefix = "CI_"

	// fileSuffix marks an env var whose value is the path of a file
	// holding the flag value.
	fileSuffix = "_FILE"
)

// SetFlagsFromEnvVariables sets flags from env variables. Each flag can be
// set with an env variable whose name starts with `CI_`, or with one that
// further ends with `_FILE`, naming a file holding the value.
func SetFlagsFromEnvVariables(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		envVar := flagToEnvVarName(f)
		if val, present := os.LookupEnv(envVar); present {
			if setErr := fs.Set(f.Name, val); setErr != nil {
				err = fmt.Errorf("setting flag %s from %s: %w", f.Name, envVar, setErr)
			}
			return
		}
		// a flag already ending in _file cannot also be read from a file
		if strings.HasSuffix(envVar, fileSuffix) {
			return
		}
		path, present := os.LookupEnv(envVar + fileSuffix)
		if !present {
			return
		}
		contents, readErr := os.ReadFile(path)
		if readErr != nil {
			err = fmt.Errorf("reading %s: %w", envVar+fileSuffix, readErr)
			return
		}
		if setErr := fs.Set(f.Name, string(contents)); setErr != nil {
			err = fmt.Errorf("setting flag %s from %s: %w", f.Name, path, setErr)
		}
	})
	return err
}

func flagToEnvVarName(f *pflag.Flag) string {
	return fmt.Sprintf("%s%s", EnvironmentVariablePrefix, strings.Replace(strings.ToUpper(f.Name), "-", "_", -1))
}
