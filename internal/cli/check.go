package cli

import (
	"context"
	"fmt"
	"os/exec"
	"sort"

	"github.com/aretw0/pergola/internal/config"
	loamAdapter "github.com/aretw0/pergola/pkg/adapters/loam"
	"github.com/aretw0/pergola/pkg/adapters/process"
	"github.com/aretw0/pergola/pkg/domain"
)

// RunCheck validates the bridge configuration: durations, origins, catalog
// manifests, and the local program registry. Problems print one per line and
// make the command fail; absent binaries only warn, since the deployment
// host may differ.
func RunCheck(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if _, err := cfg.ParseSettleDelay(); err != nil {
		report("%v", err)
	}
	if _, err := cfg.ParseCallTimeout(); err != nil {
		report("%v", err)
	}
	if _, err := cfg.FamilyTimeouts(); err != nil {
		report("%v", err)
	}

	if cfg.HostOrigin != "" {
		if _, err := domain.NormalizeOrigin(cfg.HostOrigin); err != nil {
			report("host_origin: %v", err)
		}
	}
	for _, o := range cfg.Origins {
		if _, err := domain.NormalizeOrigin(o); err != nil {
			report("origins: %v", err)
		}
	}

	if cfg.Catalog.Path != "" {
		problems = append(problems, checkCatalog(cfg.Catalog.Path)...)
	}
	if cfg.Programs.Path != "" {
		problems = append(problems, checkPrograms(cfg.Programs.Path)...)
	}

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Printf("✗ %s\n", p)
		}
		return fmt.Errorf("%d problem(s) found", len(problems))
	}

	fmt.Println("Bridge configuration is valid! ✅")
	return nil
}

func checkCatalog(path string) []string {
	catalog, err := loamAdapter.Open(path)
	if err != nil {
		return []string{fmt.Sprintf("catalog: %v", err)}
	}
	manifests, err := catalog.List(context.Background())
	if err != nil {
		return []string{fmt.Sprintf("catalog: %v", err)}
	}

	var problems []string
	for _, m := range manifests {
		if m.Origin == "" {
			problems = append(problems, fmt.Sprintf("manifest %s: missing origin", m.ID))
		} else if _, err := domain.NormalizeOrigin(m.Origin); err != nil {
			problems = append(problems, fmt.Sprintf("manifest %s: %v", m.ID, err))
		}
		for _, f := range m.Families {
			if _, err := f.ParseTimeout(); err != nil {
				problems = append(problems, fmt.Sprintf("manifest %s: family %s: %v", m.ID, f.Name, err))
			}
		}
	}
	return problems
}

func checkPrograms(path string) []string {
	programs, err := process.LoadPrograms(path)
	if err != nil {
		return []string{fmt.Sprintf("programs: %v", err)}
	}

	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		p := programs[name]
		if p.Command == "" {
			problems = append(problems, fmt.Sprintf("program %s: missing command", name))
			continue
		}
		if _, err := exec.LookPath(p.Command); err != nil {
			fmt.Printf("⚠ program %s: %v\n", name, err)
		}
	}
	return problems
}
