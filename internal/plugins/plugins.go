// Package plugins registers the standard plugin catalog. Importing it
// pulls every built-in plugin and auth variant into the registries.
package plugins

import (
	_ "github.com/wudi/apigate/internal/plugins/auth"
	_ "github.com/wudi/apigate/internal/plugins/circuitbreaker"
	_ "github.com/wudi/apigate/internal/plugins/consumerrestriction"
	_ "github.com/wudi/apigate/internal/plugins/cors"
	_ "github.com/wudi/apigate/internal/plugins/limitcount"
	_ "github.com/wudi/apigate/internal/plugins/prometheus"
	_ "github.com/wudi/apigate/internal/plugins/requestid"
	_ "github.com/wudi/apigate/internal/plugins/requestvalidation"
	_ "github.com/wudi/apigate/internal/plugins/responserewrite"
)
