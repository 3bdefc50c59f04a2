package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tirds/internal/app"
	"tirds/internal/cache"
	"tirds/internal/config"
	"tirds/internal/logger"
	"tirds/internal/pkg/jsonutil"
	"tirds/internal/store/gormstore"
	"tirds/internal/types"
)

const defaultConfigPath = "config/tirds.toml"

const (
	exitOK         = 0
	exitConfig     = 2
	exitInput      = 3
	exitEvaluation = 4
)

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run 分发子命令；stdout 只写决策 JSON，其余输出都进 stderr。
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger.SetOutput(stderr)
	cmd := "evaluate"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "evaluate":
		return runEvaluate(args, stdin, stdout, stderr)
	case "serve":
		return runServe(args, stderr)
	case "seed":
		return runSeed(args, stdout, stderr)
	case "inspect":
		return runInspect(args, stdout, stderr)
	}
	return fail(stderr, exitInput, types.NewEvaluationError(types.TagInvalidProposal, "", fmt.Sprintf("未知子命令 %q", cmd), nil))
}

func runEvaluate(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "配置文件路径")
	input := fs.String("input", "", "TradeProposal JSON 文件，缺省读取 stdin")
	pretty := fs.Bool("pretty", false, "缩进输出")
	if err := fs.Parse(args); err != nil {
		return exitInput
	}

	cfg, closeLogs, code := loadConfig(*cfgPath, stderr)
	if code != exitOK {
		return code
	}
	defer closeLogs()

	proposal, err := readProposal(*input, stdin)
	if err != nil {
		return fail(stderr, exitInput, err)
	}

	ctx := context.Background()
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return fail(stderr, buildExitCode(err), err)
	}
	defer a.Close()

	decision, err := a.Evaluate(ctx, proposal)
	if err != nil {
		ee := types.AsEvaluationError(err)
		code := exitEvaluation
		if ee.Tag == types.TagInvalidProposal {
			code = exitInput
		}
		return fail(stderr, code, ee)
	}
	out, err := jsonutil.Encode(decision, *pretty)
	if err != nil {
		return fail(stderr, exitEvaluation, err)
	}
	if _, err := stdout.Write(out); err != nil {
		logger.Errorf("写出决策失败: %v", err)
		return exitEvaluation
	}
	return exitOK
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "配置文件路径")
	addr := fs.String("addr", "", "监听地址，缺省使用 [http].addr")
	if err := fs.Parse(args); err != nil {
		return exitInput
	}
	cfg, closeLogs, code := loadConfig(*cfgPath, stderr)
	if code != exitOK {
		return code
	}
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return fail(stderr, buildExitCode(err), err)
	}
	defer a.Close()
	if err := a.Serve(ctx, *addr); err != nil {
		logger.Errorf("服务退出: %v", err)
		return exitEvaluation
	}
	return exitOK
}

// runSeed 以外部 loader 的方式写入缓存条目，仅用于本地开发。
func runSeed(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "配置文件路径")
	file := fs.String("file", "", "seed 条目 JSON 文件")
	if err := fs.Parse(args); err != nil {
		return exitInput
	}
	cfg, closeLogs, code := loadConfig(*cfgPath, stderr)
	if code != exitOK {
		return code
	}
	defer closeLogs()
	if strings.TrimSpace(*file) == "" {
		return fail(stderr, exitInput, errors.New("seed 需要 -file"))
	}
	entries, err := gormstore.LoadSeedFile(*file, time.Now().UTC())
	if err != nil {
		return fail(stderr, exitInput, err)
	}

	ctx := context.Background()
	if cfg.Cache.Backend == config.BackendRedis {
		return seedRedis(ctx, cfg.Cache, entries, stdout, stderr)
	}
	w, err := gormstore.OpenCacheWriter(ctx, cfg.Cache.SQLitePath)
	if err != nil {
		return fail(stderr, exitEvaluation, err)
	}
	defer w.Close()
	expired, err := w.DeleteExpired(ctx)
	if err != nil {
		return fail(stderr, exitEvaluation, err)
	}
	if err := w.Upsert(ctx, entries...); err != nil {
		return fail(stderr, exitInput, err)
	}
	total, err := w.Count(ctx)
	if err != nil {
		return fail(stderr, exitEvaluation, err)
	}
	logger.Infof("seed 完成: 写入 %d 条, 清理过期 %d 条, 当前共 %d 条 (%s)", len(entries), expired, total, cfg.Cache.SQLitePath)
	out, _ := jsonutil.Encode(map[string]int64{"written": int64(len(entries)), "total": total}, false)
	_, _ = stdout.Write(out)
	return exitOK
}

// seedRedis 逐条 SET；redis 按 expires_at 自行过期，不需要清理。
func seedRedis(ctx context.Context, cc config.CacheConfig, entries []types.CacheEntry, stdout, stderr io.Writer) int {
	store, err := cache.OpenRedis(ctx, app.RedisOptions(cc))
	if err != nil {
		return fail(stderr, exitEvaluation, err)
	}
	defer store.Close()
	for _, e := range entries {
		if err := store.Put(ctx, e); err != nil {
			return fail(stderr, exitEvaluation, err)
		}
	}
	logger.Infof("seed 完成: 写入 %d 条 (redis %s)", len(entries), cc.RedisAddr)
	out, _ := jsonutil.Encode(map[string]int64{"written": int64(len(entries))}, false)
	_, _ = stdout.Write(out)
	return exitOK
}

// runInspect 列出 sqlite 持久层中按 symbol 或 key 前缀匹配的未过期条目。
func runInspect(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "配置文件路径")
	symbol := fs.String("symbol", "", "按 symbol 列过滤")
	prefix := fs.String("prefix", "", "按 key 前缀过滤")
	pretty := fs.Bool("pretty", false, "缩进输出")
	if err := fs.Parse(args); err != nil {
		return exitInput
	}
	sym, pre := strings.TrimSpace(*symbol), strings.TrimSpace(*prefix)
	if (sym == "") == (pre == "") {
		return fail(stderr, exitInput, errors.New("inspect 需要 -symbol 或 -prefix 之一"))
	}
	cfg, closeLogs, code := loadConfig(*cfgPath, stderr)
	if code != exitOK {
		return code
	}
	defer closeLogs()
	if cfg.Cache.Backend != config.BackendSQLite {
		return fail(stderr, exitConfig, fmt.Errorf("%w: inspect 仅支持 sqlite 后端", types.ErrMalformedConfiguration))
	}

	ctx := context.Background()
	store, err := cache.OpenSQLite(ctx, cfg.Cache.SQLitePath)
	if err != nil {
		return fail(stderr, exitEvaluation, err)
	}
	defer store.Close()
	var entries []types.CacheEntry
	if sym != "" {
		entries, err = store.ListBySymbol(ctx, sym)
	} else {
		entries, err = store.ListByPrefix(ctx, pre)
	}
	if err != nil {
		return fail(stderr, exitEvaluation, err)
	}
	if entries == nil {
		entries = []types.CacheEntry{}
	}
	out, err := jsonutil.Encode(entries, *pretty)
	if err != nil {
		return fail(stderr, exitEvaluation, err)
	}
	_, _ = stdout.Write(out)
	return exitOK
}

// loadConfig 解析配置路径（-config → TIRDS_CONFIG → 默认值，前者优先）并初始化日志输出。
func loadConfig(flagPath string, stderr io.Writer) (*config.Config, func(), int) {
	path := strings.TrimSpace(os.Getenv("TIRDS_CONFIG"))
	if p := strings.TrimSpace(flagPath); p != "" {
		path = p
	}
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fail(stderr, exitConfig, err)
	}
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	logFile, err := setupLogOutput(cfg.App.LogPath, stderr)
	if err != nil {
		return nil, nil, fail(stderr, exitConfig, fmt.Errorf("%w: 初始化日志文件失败: %v", types.ErrMalformedConfiguration, err))
	}
	if logFile != nil {
		files = append(files, logFile)
	}
	logger.SetLLMWriter(nil)
	if cfg.App.LLMDump {
		f, err := setupLLMLogOutput(cfg.App.LLMLog)
		if err != nil {
			closeAll()
			return nil, nil, fail(stderr, exitConfig, fmt.Errorf("%w: 初始化 LLM 日志失败: %v", types.ErrMalformedConfiguration, err))
		}
		if f != nil {
			files = append(files, f)
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.EnableLLMPayloadDump(cfg.App.LLMDump)
	logger.Debugf("配置加载成功 path=%s env=%s", path, cfg.App.Env)
	return cfg, closeAll, exitOK
}

func readProposal(path string, stdin io.Reader) (types.TradeProposal, error) {
	var (
		data []byte
		err  error
	)
	if p := strings.TrimSpace(path); p != "" {
		data, err = os.ReadFile(p)
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return types.TradeProposal{}, types.NewEvaluationError(types.TagInvalidProposal, "", "读取提案失败: "+err.Error(), err)
	}
	var proposal types.TradeProposal
	if err := json.Unmarshal(data, &proposal); err != nil {
		return types.TradeProposal{}, types.NewEvaluationError(types.TagInvalidProposal, "", "提案不是合法 JSON: "+err.Error(), err)
	}
	return proposal, nil
}

func buildExitCode(err error) int {
	if errors.Is(err, types.ErrMalformedConfiguration) {
		return exitConfig
	}
	return exitEvaluation
}

// fail 把错误以 JSON 信封写入 stderr 并返回退出码。
func fail(stderr io.Writer, code int, err error) int {
	var ee *types.EvaluationError
	if !errors.As(err, &ee) {
		if code == exitInput {
			ee = types.NewEvaluationError(types.TagInvalidProposal, "", err.Error(), err)
		} else {
			ee = types.AsEvaluationError(err)
		}
	}
	out, encErr := jsonutil.Encode(types.ErrorEnvelope{Error: ee}, false)
	if encErr != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return code
	}
	_, _ = stderr.Write(out)
	return code
}

func setupLogOutput(path string, stderr io.Writer) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(io.MultiWriter(stderr, file))
	return file, nil
}

func setupLLMLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetLLMWriter(f)
	return f, nil
}
