package cmd

import (
	"fmt"
	"strings"

	"presip-lab/server/internal/domain"
	"presip-lab/server/internal/model"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List roles and scenarios",
	Example: `  presiplab catalog
  presiplab catalog --role parents --lang zh`,
	RunE: runCatalog,
}

func init() {
	catalogCmd.Flags().String("role", "", "only list scenarios for this role")
	catalogCmd.Flags().String("lang", "en", "en|zh")
	rootCmd.AddCommand(catalogCmd)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog := domain.DefaultCatalog
	if cfg.Paths.Catalog != "" {
		catalog = func() (*domain.Catalog, error) { return domain.LoadCatalog(cfg.Paths.Catalog) }
	}
	c, err := catalog()
	if err != nil {
		return err
	}

	roleFilter, _ := cmd.Flags().GetString("role")
	langFlag, _ := cmd.Flags().GetString("lang")
	lang, err := model.ParseLanguage(langFlag)
	if err != nil {
		return err
	}
	if roleFilter != "" {
		if _, err := c.FindRole(roleFilter); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, r := range c.Roles() {
		if roleFilter != "" && r.ID != roleFilter {
			continue
		}
		fmt.Fprintf(out, "%s  %s\n", r.ID, r.Title.Get(lang))
		for _, s := range c.ScenariosForRole(r.ID) {
			fmt.Fprintf(out, "  %-4s %-13s %s", s.ID, s.Difficulty, s.Title.Get(lang))
			if len(s.Tags) > 0 {
				fmt.Fprintf(out, "  [%s]", strings.Join(s.Tags, ", "))
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}
