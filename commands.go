package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
	"github.com/bcgov/CRP-GSS-Project-Management/storage"
)

var (
	engagementClients bool
	engagementTop     int
	engagementJSON    bool

	exportPerson string
	exportOut    string
	exportS3     bool
)

var engagementCmd = &cobra.Command{
	Use:   "engagement",
	Short: "Report who is engaged on CRP/Caribou projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		analyzer, err := connectArcGIS(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("%w (missing: %v)", err, cfg.MissingArcGIS())
		}
		top := engagementTop
		if top <= 0 {
			top = cfg.EngagementTop
		}
		out := cmd.OutOrStdout()

		if engagementClients {
			report, err := analyzer.AnalyzeClients(cmd.Context())
			if err != nil {
				return err
			}
			ranked := engagement.TopClients(report.Clients, top)
			if engagementJSON {
				return writeJSON(out, map[string]any{"report": report, "top_clients": ranked})
			}
			fmt.Fprintf(out, "%d CRP/Caribou projects across %d clients\n\n", report.TotalProjects, report.TotalClients)
			for i, c := range ranked {
				fmt.Fprintf(out, "%2d. %-40s %d projects\n", i+1, c.Name, c.TotalProjects)
			}
			return nil
		}

		report, err := analyzer.AnalyzeTeam(cmd.Context())
		if err != nil {
			return err
		}
		ranked := engagement.TopPeople(report.People, top)
		workload := engagement.Workload(report.People)
		if engagementJSON {
			return writeJSON(out, map[string]any{
				"report":                report,
				"top_people":            ranked,
				"workload_distribution": workload,
				"role_distribution":     engagement.Roles(report.People),
			})
		}
		fmt.Fprintf(out, "%d CRP/Caribou projects, %d people (%d credited to a coordinator)\n\n",
			report.TotalProjects, report.TotalPeople, report.FallbackProjects)
		for i, p := range ranked {
			fmt.Fprintf(out, "%2d. %-32s %3d projects  %v\n", i+1, p.Name, p.TotalProjects, p.Roles)
		}
		fmt.Fprintln(out)
		for _, bucket := range engagement.WorkloadBuckets {
			fmt.Fprintf(out, "%-14s %d\n", bucket, workload[bucket])
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Fetch a person's CRP projects from ArcGIS",
	Long: `Export queries the GSS resources and projects tables for the projects a
person is assigned to and writes them as JSON to stdout, a file, or the
projects document in S3.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		person := exportPerson
		if person == "" {
			person = cfg.ArcGIS.Person
		}
		if person == "" {
			return errors.New("--person (or PERSON) is required")
		}
		analyzer, err := connectArcGIS(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		projects, err := analyzer.ProjectsForPerson(cmd.Context(), person)
		if err != nil {
			return err
		}

		switch {
		case exportS3:
			if err := cfg.Validate(); err != nil {
				return err
			}
			store, err := storage.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := store.SaveProjects(cmd.Context(), projects); err != nil {
				return err
			}
			logger.WithFields(log.Fields{"projects": len(projects), "key": cfg.S3.ProjectsKey}).Info("Projects exported to S3")
		case exportOut != "":
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			if err := writeJSON(f, projects); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			logger.WithFields(log.Fields{"projects": len(projects), "file": exportOut}).Info("Projects exported")
		default:
			return writeJSON(cmd.OutOrStdout(), projects)
		}
		return nil
	},
}

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Generate Dendron notes from the portfolio",
}

var notesHubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Write the portal hub note",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		v, err := openVault(cfg, logger)
		if err != nil {
			return err
		}
		svc, err := loadPortfolio(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		path, err := v.WriteHubNote(svc.Hub(), svc.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var notesProjectCmd = &cobra.Command{
	Use:   "project ID",
	Short: "Create the note for one project unless it exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		v, err := openVault(cfg, logger)
		if err != nil {
			return err
		}
		svc, err := loadPortfolio(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		view, err := svc.ProjectView(args[0])
		if err != nil {
			return err
		}
		path, created, err := v.CreateProjectNote(portfolio.NoteFor(view), svc.Now())
		if err != nil {
			return err
		}
		logger.WithFields(log.Fields{"path": path, "created": created}).Info("Project note ready")
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	engagementCmd.Flags().BoolVar(&engagementClients, "clients", false, "Report by client instead of by person")
	engagementCmd.Flags().IntVar(&engagementTop, "top", 0, "Number of ranked entries (default ENGAGEMENT_TOP)")
	engagementCmd.Flags().BoolVar(&engagementJSON, "json", false, "Print the full report as JSON")

	exportCmd.Flags().StringVar(&exportPerson, "person", "", "Resource name to export projects for (default PERSON)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Write JSON to this file instead of stdout")
	exportCmd.Flags().BoolVar(&exportS3, "s3", false, "Replace the projects document in S3")
	exportCmd.MarkFlagsMutuallyExclusive("out", "s3")

	notesCmd.AddCommand(notesHubCmd, notesProjectCmd)
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
