package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zhukovaskychina/xmysql-myisam/logger"
	"github.com/zhukovaskychina/xmysql-myisam/server/conf"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keycodec"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/manager"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

const help = `
******************************************************************************************
*myisamchk [options] <keyfile>
*1. -c        指定 ini / toml 配置文件
*2. -check    检查所有索引
*3. -info     打印索引定义和统计
*4. -load     从 "key,rowref" 文本文件重建索引 0, 键文件不存在时创建
******************************************************************************************
`

// loadRefWidth -load 创建键文件时使用的行引用宽度
const loadRefWidth = 6

func main() {
	var (
		configPath string
		check      bool
		info       bool
		loadPath   string
	)
	flag.StringVar(&configPath, "c", "", "配置文件路径")
	flag.BoolVar(&check, "check", false, "检查所有索引")
	flag.BoolVar(&info, "info", false, "打印索引信息")
	flag.StringVar(&loadPath, "load", "", "批量加载的文本文件")
	flag.Usage = func() { fmt.Fprint(os.Stderr, help) }
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	keyPath := flag.Arg(0)

	cfg, err := conf.NewCfg().Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.InitLogger(cfg.LogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	kf, err := openKeyFile(keyPath, cfg, loadPath != "")
	if err != nil {
		logger.Fatalf("open %s: %v", keyPath, err)
	}
	code := run(kf, loadPath, check, info)
	if err := kf.Close(); err != nil {
		logger.Errorf("close %s: %v", keyPath, err)
		code = 1
	}
	os.Exit(code)
}

func openKeyFile(path string, cfg *conf.Cfg, create bool) (*manager.KeyFile, error) {
	exists, err := util.PathExists(path)
	if err != nil {
		return nil, err
	}
	if !exists && create {
		return manager.Create(path, []manager.IndexDef{{
			Name:         "key",
			Kind:         keycodec.KindFixed,
			KeyLength:    8,
			RefLength:    loadRefWidth,
			AppendMostly: true,
		}}, cfg)
	}
	return manager.Open(path, cfg)
}

func run(kf *manager.KeyFile, loadPath string, check, info bool) int {
	if loadPath != "" {
		if err := load(kf, loadPath); err != nil {
			logger.Errorf("load %s: %v", loadPath, err)
			return 1
		}
	}
	if check {
		reports, err := kf.Check()
		for nr, r := range reports {
			fmt.Printf("index %d: %d entries, %d pages (%d leaves), height %d, checksum %016x\n",
				nr, r.Entries, r.Pages, r.LeafPages, r.Height, r.KeyChecksum)
		}
		if err != nil {
			fmt.Printf("error %d: %v\n", basic.Code(err), err)
			return 1
		}
	}
	if info {
		printInfo(kf)
	}
	return 0
}

func printInfo(kf *manager.KeyFile) {
	fmt.Printf("key file: %s\n", kf.Path())
	for nr, def := range kf.Defs() {
		tree, err := kf.Index(nr)
		if err != nil {
			continue
		}
		height, _ := tree.Height()
		fmt.Printf("  %d %-12s %-7s key %4d ref %d block %5d unique %-5v entries %d height %d\n",
			nr, def.Name, def.Kind, def.KeyLength, def.RefLength, def.BlockLength, def.Unique, tree.Entries(), height)
	}
	st := kf.Stats()
	fmt.Printf("pages: allocated %d, extended %d, reused %d, freed %d\n",
		st.Store.Allocated, st.Store.Extended, st.Store.Reused, st.Store.Freed)
	for nr, b := range st.Builds {
		fmt.Printf("build %d: keys %d, runs %d, merge passes %d, pages %d\n", nr, b.Keys, b.Runs, b.MergePasses, b.Pages)
	}
	if st.Duplicates > 0 {
		fmt.Printf("duplicate rows removed: %d\n", st.Duplicates)
	}
}

// textRows 从文本文件读出的行, 每行 "key,rowref"
type textRows struct {
	mu   sync.Mutex
	rows map[uint64][]byte
	refs []uint64
	// width 行引用宽度
	width int
}

func readTextRows(path string, width int) (*textRows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr := &textRows{rows: map[uint64][]byte{}, width: width}
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Split(text, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: want key,rowref", line)
		}
		key, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		ref, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		if _, dup := tr.rows[ref]; dup {
			return nil, fmt.Errorf("line %d: rowref %d repeated", line, ref)
		}
		tr.rows[ref] = keycodec.EncodeInt64(key)
		tr.refs = append(tr.refs, ref)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(tr.refs, func(i, j int) bool { return tr.refs[i] < tr.refs[j] })
	return tr, nil
}

func (tr *textRows) Scan(ctx context.Context, fn func(ref, row []byte) error) error {
	for _, ref := range tr.refs {
		tr.mu.Lock()
		row, ok := tr.rows[ref]
		tr.mu.Unlock()
		if !ok {
			continue
		}
		if err := fn(keycodec.EncodeRowRef(ref, tr.width), row); err != nil {
			return err
		}
	}
	return nil
}

func (tr *textRows) ReadRow(ref []byte) ([]byte, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	row, ok := tr.rows[keycodec.DecodeRowRef(ref)]
	if !ok {
		return nil, basic.ErrKeyNotFound
	}
	return row, nil
}

func (tr *textRows) DeleteRow(ref []byte) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.rows, keycodec.DecodeRowRef(ref))
	return nil
}

func load(kf *manager.KeyFile, path string) error {
	defs := kf.Defs()
	if len(defs) != 1 || defs[0].Kind != keycodec.KindFixed || defs[0].KeyLength != 8 {
		return fmt.Errorf("-load needs a key file with a single 8 byte fixed index")
	}
	rows, err := readTextRows(path, defs[0].RefLength)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	logger.Infof("loading %d rows from %s", len(rows.refs), path)
	return kf.Rebuild(ctx, rows, func(_ int, row []byte) ([]byte, error) {
		return row, nil
	})
}
