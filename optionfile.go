package tinycan

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// LoadOptionFile reads driver options from an ini file, the format the
// vendor library itself consumes through its CfgFile and Section options.
// Keys must come from the fixed option set, values that look like integers
// are stored as integers. An empty section name reads the unnamed default
// section.
func LoadOptionFile(path string, section string) (map[string]any, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("could not load option file %v : %w", path, err)
	}
	iniSection, err := file.GetSection(section)
	if err != nil {
		return nil, fmt.Errorf("option file %v : %w", path, err)
	}
	options := make(map[string]any)
	for _, key := range iniSection.Keys() {
		if !validOptionKeys[key.Name()] {
			return nil, fmt.Errorf("%w: %q in %v", ErrUnknownOption, key.Name(), path)
		}
		if number, err := key.Int(); err == nil {
			options[key.Name()] = number
		} else {
			options[key.Name()] = key.String()
		}
	}
	return options, nil
}
