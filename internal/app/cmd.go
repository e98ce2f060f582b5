package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除ワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandCreateAdmin は管理者ユーザーを作成することを示す。
	CommandCreateAdmin Command = "create-admin"
)

// adminPasswordEnv は端末以外から起動した場合に管理者パスワードを読む環境変数。
const adminPasswordEnv = "PERPUS_ADMIN_PASSWORD"

// NewRootCommand はperpusのコマンドツリーを構築する。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "perpus",
		Short:         "図書館の貸出管理APIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, w)
		},
	}
	root.SetOut(w)

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "APIサーバーを起動する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd, w)
			},
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "期限切れセッションの定期削除を実行する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := Init(w)
				if err != nil {
					return err
				}
				logStart(CommandWorker, cfg)
				return runWorker(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   string(CommandMigrate),
			Short: "未適用のマイグレーションを適用する",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := Init(w)
				if err != nil {
					return err
				}
				logStart(CommandMigrate, cfg)
				return runMigrate(cfg)
			},
		},
		&cobra.Command{
			Use:   string(CommandHealthcheck),
			Short: "稼働中のサーバーの/healthを確認する",
			Args:  cobra.NoArgs,
			// 軽量サブコマンドのため、フル初期化をスキップする
			RunE: func(_ *cobra.Command, _ []string) error {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				return runHealthcheck(port)
			},
		},
		newCreateAdminCommand(w),
	)

	return root
}

func newCreateAdminCommand(w io.Writer) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   string(CommandCreateAdmin),
		Short: "管理者ユーザーを作成する",
		Long: "管理者ユーザーを作成する。パスワードは端末から入力する。\n" +
			"端末以外から実行する場合は環境変数 " + adminPasswordEnv + " を使う。",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			password, err := readAdminPassword(os.Stdin, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runCreateAdmin(cmd.Context(), cfg, username, password, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "管理者のユーザー名")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func serve(cmd *cobra.Command, w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return err
	}
	logStart(CommandServe, cfg)
	return runServe(cmd.Context(), cfg)
}
