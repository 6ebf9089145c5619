package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/mock"
	"github.com/arloliu/go-monochromator/monochromator"
	"github.com/arloliu/go-monochromator/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, _ := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func collect(c *Collectors) map[string]float64 {
	values := make(map[string]float64, len(c.collectors))
	for i, col := range c.collectors {
		values[c.names[i]] = testutil.ToFloat64(col)
	}

	return values
}

func TestNew_Errors(t *testing.T) {
	_, err := New("", Source{})
	require.Error(t, err)
}

func TestCollectors_Disconnected(t *testing.T) {
	require := require.New(t)

	c, err := New("", Source{
		Controller: func() *monochromator.Controller { return nil },
		State:      func() (int, int) { return 1, 0 },
	})
	require.NoError(err)

	reg := prometheus.NewRegistry()
	require.NoError(c.Register(reg))

	values := collect(c)
	require.Equal(float64(transport.DisconnectedState), values["monochromator_session_state"])
	require.Zero(values["monochromator_transport_commands_sent_total"])
	require.Equal(1.0, values["monochromator_component_summary_state"])
	require.Contains(values, "monochromator_component_detailed_state")

	_, err = reg.Gather()
	require.NoError(err)

	// registering twice conflicts
	require.Error(c.Register(reg))
}

func TestCollectors_Connected(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv, err := mock.New(mock.WithSettleTime(10 * time.Millisecond))
	require.NoError(err)
	require.NoError(srv.Start(ctx))
	t.Cleanup(srv.Stop)

	cfg, err := transport.NewConfig(srv.Host(), srv.Port(), transport.WithReadTimeout(2*time.Second))
	require.NoError(err)
	ctrl, err := monochromator.New(ctx, cfg, srv.Limits())
	require.NoError(err)
	t.Cleanup(ctrl.Close)

	_, err = ctrl.Connect(ctx)
	require.NoError(err)

	c, err := New("mono_test", Source{Controller: func() *monochromator.Controller { return ctrl }})
	require.NoError(err)

	reg := prometheus.NewRegistry()
	require.NoError(c.Register(reg))

	values := collect(c)
	require.Equal(float64(transport.ConnectedState), values["mono_test_session_state"])
	require.Equal(1.0, values["mono_test_transport_connects_total"])
	require.Positive(values["mono_test_transport_commands_sent_total"])
	require.Equal(srv.Limits().MinWavelength, values["mono_test_device_wavelength_nm"])
	require.Zero(values["mono_test_device_moving"])
	require.NotContains(values, "mono_test_component_summary_state")

	m, err := ctrl.SetWavelength(500)
	require.NoError(err)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.True(m.Wait(waitCtx).IsDone())

	values = collect(c)
	require.InDelta(500.0, values["mono_test_device_wavelength_nm"], 1e-9)
	require.Zero(values["mono_test_transport_faults_total"])
}
