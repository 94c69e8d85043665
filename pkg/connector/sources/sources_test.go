package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/connector/registry"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

func TestAllSourcesRegistered(t *testing.T) {
	assert.Equal(t, []string{
		"harvest", "hubspot", "jira", "mailchimp", "odoo", "quickbooks", "salesforce", "zoho",
	}, registry.Default().List())
}

// Every connector declares required credentials, and creating one with any
// single key missing fails naming exactly that key.
func TestMissingCredentialIsNamed(t *testing.T) {
	reg := registry.Default()
	for _, typ := range reg.List() {
		required := reg.Requirements()[typ]
		require.NotEmpty(t, required, typ)

		for _, drop := range required {
			creds := core.RawCredentials{}
			for _, k := range required {
				if k != drop {
					creds[k] = "x"
				}
			}
			_, err := reg.Create(typ, 1, creds, core.Options{})
			require.Error(t, err, "%s without %s", typ, drop)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Equal(t, "Missing credentials: "+drop, errors.Message(err), typ)
		}
	}
}
