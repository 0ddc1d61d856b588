package endpoint

import "fmt"

func init() {
	Register("graphqlAdmin", func() Config { return &adminStubConfig{name: "graphqlAdmin"} })
	Register("openapiAdmin", func() Config { return &adminStubConfig{name: "openapiAdmin"} })
}

// adminStubConfig reserves the admin surface tags. The surfaces
// themselves live outside this binary; configuring one here is an error
// rather than a silent no-op.
type adminStubConfig struct {
	name string
}

func (c *adminStubConfig) Create() (Endpoint, error) {
	return nil, fmt.Errorf("endpoint %q requires the external admin surface and is not built into this binary", c.name)
}
