package auth

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const wildcard = "*"

type matrixFile struct {
	Roles map[string]yaml.Node `yaml:"roles"`
}

// LoadMatrix reads a matrix definition of the form
//
//	roles:
//	  citizen: [view:feed, action:vote]
//	  superadmin: "*"
//
// and validates it with NewMatrix.
func LoadMatrix(r io.Reader) (*Matrix, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file matrixFile
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidMatrix)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}
	grants := make(map[Role]Grant, len(file.Roles))
	for rawRole, node := range file.Roles {
		role, err := ParseRole(rawRole)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMatrix, err)
		}
		switch node.Kind {
		case yaml.ScalarNode:
			if strings.TrimSpace(node.Value) != wildcard {
				return nil, fmt.Errorf("%w: role %s: scalar grant must be %q", ErrInvalidMatrix, role, wildcard)
			}
			grants[role] = AllPermissions{}
		case yaml.SequenceNode:
			var keys []string
			if err := node.Decode(&keys); err != nil {
				return nil, fmt.Errorf("%w: role %s: %v", ErrInvalidMatrix, role, err)
			}
			perms := make([]Permission, 0, len(keys))
			for _, k := range keys {
				k = strings.TrimSpace(k)
				if k == wildcard {
					return nil, fmt.Errorf("%w: role %s: %q must be the whole grant", ErrInvalidMatrix, role, wildcard)
				}
				perms = append(perms, Permission(k))
			}
			grants[role] = NewExplicit(perms...)
		default:
			return nil, fmt.Errorf("%w: role %s: unsupported grant", ErrInvalidMatrix, role)
		}
	}
	return NewMatrix(grants)
}

// LoadMatrixFile reads a matrix definition from disk.
func LoadMatrixFile(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matrix file: %w", err)
	}
	return LoadMatrix(bytes.NewReader(data))
}
