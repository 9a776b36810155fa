package app

import (
	"emsctl/internal/config"
	"emsctl/internal/observability/pprof"
)

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	rt, err := config.ParseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("pprof.write_timeout", pc.WriteTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Addr:                 pc.Addr,
		Prefix:               pc.Prefix,
		Token:                pc.Token,
		AllowInsecure:        pc.AllowInsecure,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
	}, nil
}
