// Package config loads the jsonwire server configuration.
//
// Values are layered, lowest precedence first:
//  1. Built-in defaults (Default)
//  2. A YAML file (explicit --config path, or config.yaml in the working
//     directory or GetConfigDir)
//  3. Environment variables with the JSONWIRE_ prefix, dots replaced by
//     underscores (JSONWIRE_SERVER_RECEIVE_TIMEOUT=30s)
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/jsonwire/config.yaml or $HOME/.config/jsonwire/config.yaml
//   - macOS: $HOME/.config/jsonwire/config.yaml
//   - Windows: %LOCALAPPDATA%\jsonwire\config.yaml
//
// # Usage Example
//
//	loader := config.NewLoader(path)
//	cfg, err := loader.Load()
//	if err != nil {
//	    return err
//	}
//
//	loader.Watch(func(next *config.Config, err error) {
//	    if err != nil {
//	        return // keep running with the previous config
//	    }
//	    log.SetLevel(next.Log.Level)
//	})
//
// # Hot Reload
//
// Watch relies on fsnotify through viper. Only settings that are safe to change
// on a live server are applied by the caller; today that is log.level.
// Listener addresses, timeouts and the presence backend need a restart.
package config
