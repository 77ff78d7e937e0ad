package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/executor"
	"github.com/wippyai/wasm-vm/instance"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

// memoryBind defers re-backing a host memory handle until the whole
// instantiation has succeeded, keeping failure side-effect free.
type memoryBind struct {
	mem     *instance.Memory
	export  string
	copyOut []byte
}

type globalBind struct {
	global *instance.Global
	export string
}

// Instantiate materializes a validated module inside the wazero
// runtime. Function imports are bridged through a synthetic host
// module; memory, global and table imports are satisfied by a
// synthetic provider module the guest is rewritten to import from.
// On any failure every module created along the way is closed and no
// host handle is re-bound.
func (e *Engine) Instantiate(ctx context.Context, mod *wasm.Module, imports []executor.ResolvedImport, name string) (*instance.Module, error) {
	if len(imports) != len(mod.Imports) {
		return nil, errs.New(errs.PhaseInstantiate, errs.KindInvalidInput,
			"resolved %d imports for a module declaring %d", len(imports), len(mod.Imports))
	}

	id := e.nextID()
	guestName := internalName("m", id)
	hostModName := internalName("h", id)
	provName := internalName("e", id)

	rewritten := *mod
	rewritten.Imports = append([]wasm.Import(nil), mod.Imports...)

	// The start routine runs through an explicit call once the instance
	// exists, so failures applying data or element segments are not
	// mistaken for start traps.
	startExport := ""
	if mod.Start != nil {
		startExport = internalName("s", id)
		for exportNamed(mod.Exports, startExport) {
			startExport = internalName("s", e.nextID())
		}
		rewritten.Start = nil
		rewritten.Exports = append(append([]wasm.Export(nil), mod.Exports...),
			wasm.Export{Name: startExport, Kind: wasm.KindFunc, Idx: *mod.Start})
	}

	prov := &wasm.Module{}
	var provLocalExports []wasm.Export
	var memBinds []memoryBind
	var globalBinds []globalBind
	hostBuilder := e.runtime.NewHostModuleBuilder(hostModName)
	numHostFuncs := 0

	for i := range rewritten.Imports {
		imp := &rewritten.Imports[i]
		ext := imports[i].Extern
		exportName := fmt.Sprintf("e%d", i)

		switch imp.Desc.Kind {
		case wasm.KindFunc:
			fn := ext.Func
			params, err := apiValueTypes(fn.Type().Params)
			if err != nil {
				return nil, err
			}
			results, err := apiValueTypes(fn.Type().Results)
			if err != nil {
				return nil, err
			}
			hostBuilder.NewFunctionBuilder().
				WithGoModuleFunction(hostShim(fn), params, results).
				Export(exportName)
			numHostFuncs++
			imp.Module = hostModName
			imp.Name = exportName

		case wasm.KindMemory:
			mem := ext.Memory
			if eb, ok := mem.Backing().(*engineMemory); ok {
				// Already lives in the runtime; alias it through an import.
				provImportEntity(prov, wasm.Import{
					Module: eb.module,
					Name:   eb.name,
					Desc:   wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: eb.limits}},
				}, exportName)
			} else {
				declared := wasm.Limits{
					Min:    uint64(mem.Pages()),
					Max:    mem.Type().Limits.Max,
					Shared: mem.Type().Limits.Shared,
				}
				content, err := mem.Read(0, mem.Size())
				if err != nil {
					return nil, err
				}
				idx := uint32(len(prov.Memories))
				prov.Memories = append(prov.Memories, wasm.MemoryType{Limits: declared})
				provLocalExports = append(provLocalExports, wasm.Export{Name: exportName, Kind: wasm.KindMemory, Idx: idx})
				memBinds = append(memBinds, memoryBind{mem: mem, export: exportName, copyOut: content})
			}
			imp.Module = provName
			imp.Name = exportName

		case wasm.KindGlobal:
			g := ext.Global
			gt := wasm.GlobalType{Type: g.Kind(), Mutable: g.Mutable()}
			if eb, ok := g.Backing().(*engineGlobal); ok {
				provImportEntity(prov, wasm.Import{
					Module: eb.module,
					Name:   eb.name,
					Desc:   wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &gt},
				}, exportName)
			} else {
				init, err := globalInitExpr(g)
				if err != nil {
					return nil, err
				}
				idx := uint32(len(prov.Globals))
				prov.Globals = append(prov.Globals, wasm.Global{Type: gt, Init: init})
				provLocalExports = append(provLocalExports, wasm.Export{Name: exportName, Kind: wasm.KindGlobal, Idx: idx})
				globalBinds = append(globalBinds, globalBind{global: g, export: exportName})
			}
			imp.Module = provName
			imp.Name = exportName

		case wasm.KindTable:
			t := ext.Table
			idx := uint32(len(prov.Tables))
			prov.Tables = append(prov.Tables, wasm.TableType{
				Elem:   t.Type().Elem,
				Limits: wasm.Limits{Min: uint64(t.Size()), Max: t.Type().Limits.Max},
			})
			provLocalExports = append(provLocalExports, wasm.Export{Name: exportName, Kind: wasm.KindTable, Idx: idx})
			imp.Module = provName
			imp.Name = exportName
		}
	}

	// Imported entities precede local definitions in each provider
	// index space; shift the local export indices now that the import
	// count is final.
	for _, le := range provLocalExports {
		switch le.Kind {
		case wasm.KindMemory:
			le.Idx += uint32(prov.NumImportedMemories())
		case wasm.KindGlobal:
			le.Idx += uint32(prov.NumImportedGlobals())
		case wasm.KindTable:
			le.Idx += uint32(prov.NumImportedTables())
		}
		prov.Exports = append(prov.Exports, le)
	}

	var created []api.Module
	fail := func(err error) (*instance.Module, error) {
		for i := len(created) - 1; i >= 0; i-- {
			_ = created[i].Close(ctx)
		}
		return nil, err
	}

	if numHostFuncs > 0 {
		hostMod, err := hostBuilder.Instantiate(ctx)
		if err != nil {
			return fail(errs.Wrap(errs.PhaseEngine, errs.KindHostError, err, "host bridge module instantiation failed"))
		}
		created = append(created, hostMod)
	}

	var provMod api.Module
	if len(prov.Imports)+len(prov.Memories)+len(prov.Globals)+len(prov.Tables) > 0 {
		var err error
		provMod, err = e.runtime.InstantiateWithConfig(ctx, prov.Encode(), wazero.NewModuleConfig().WithName(provName))
		if err != nil {
			return fail(errs.Wrap(errs.PhaseInstantiate, errs.KindInvalidInput, err, "import provider module instantiation failed"))
		}
		created = append(created, provMod)

		// Provider memories start zeroed; restore host content before
		// the guest's data segments and start routine can observe it.
		for _, mb := range memBinds {
			if len(mb.copyOut) == 0 {
				continue
			}
			if !provMod.ExportedMemory(mb.export).Write(0, mb.copyOut) {
				return fail(errs.New(errs.PhaseInstantiate, errs.KindInvalidInput,
					"copying %d bytes into provider memory failed", len(mb.copyOut)))
			}
		}
	}

	guestCfg := wazero.NewModuleConfig().WithName(guestName).WithStartFunctions()
	gmod, err := e.runtime.InstantiateWithConfig(ctx, rewritten.Encode(), guestCfg)
	if err != nil {
		return fail(errs.Wrap(errs.PhaseInstantiate, errs.KindTrap, err, "module instantiation failed"))
	}
	created = append(created, gmod)

	if startExport != "" {
		if _, err := gmod.ExportedFunction(startExport).Call(ctx); err != nil {
			return fail(errs.StartTrap(err))
		}
	}

	out, err := e.wrapExports(mod, gmod, guestName, name)
	if err != nil {
		return fail(err)
	}

	// Success: adopt engine storage for the handles that were shadowed
	// into the provider module.
	for _, mb := range memBinds {
		mb.mem.Bind(&engineMemory{
			mem:    provMod.ExportedMemory(mb.export),
			module: provName,
			name:   mb.export,
			limits: wasm.Limits{Min: uint64(mb.mem.Pages()), Max: mb.mem.Type().Limits.Max},
		})
	}
	for _, gb := range globalBinds {
		gb.global.Bind(&engineGlobal{
			g:      provMod.ExportedGlobal(gb.export),
			module: provName,
			name:   gb.export,
		})
	}

	Logger().Debug("module instantiated",
		zap.String("name", name),
		zap.String("internal", guestName),
		zap.Int("imports", len(imports)),
		zap.Int("exports", len(mod.Exports)))

	return out, nil
}

// wrapExports projects the guest's exports into instance handles.
func (e *Engine) wrapExports(mod *wasm.Module, gmod api.Module, guestName, name string) (*instance.Module, error) {
	out := instance.NewModule(name)
	for _, exp := range mod.Exports {
		var ext instance.Extern
		switch exp.Kind {
		case wasm.KindFunc:
			ft, ok := mod.FuncType(exp.Idx)
			if !ok {
				return nil, errs.UnknownIndex([]string{"export", exp.Name}, exp.Idx, uint32(mod.NumFuncs()))
			}
			fn := gmod.ExportedFunction(exp.Name)
			ext = instance.FuncExtern(instance.NewGuestFunction(ft, &guestCode{fn: fn, typ: ft}))
		case wasm.KindMemory:
			mt, ok := mod.MemoryTypeAt(exp.Idx)
			if !ok {
				return nil, errs.UnknownIndex([]string{"export", exp.Name}, exp.Idx, uint32(mod.NumMemories()))
			}
			backing := &engineMemory{
				mem:    gmod.ExportedMemory(exp.Name),
				module: guestName,
				name:   exp.Name,
				limits: mt.Limits,
			}
			ext = instance.MemoryExtern(instance.NewBoundMemory(mt, backing))
		case wasm.KindGlobal:
			gt, ok := mod.GlobalTypeAt(exp.Idx)
			if !ok {
				return nil, errs.UnknownIndex([]string{"export", exp.Name}, exp.Idx, uint32(mod.NumGlobals()))
			}
			backing := &engineGlobal{
				g:      gmod.ExportedGlobal(exp.Name),
				module: guestName,
				name:   exp.Name,
			}
			ext = instance.GlobalExtern(instance.NewBoundGlobal(gt.Type, gt.Mutable, backing))
		case wasm.KindTable:
			tt, ok := mod.TableTypeAt(exp.Idx)
			if !ok {
				return nil, errs.UnknownIndex([]string{"export", exp.Name}, exp.Idx, uint32(mod.NumTables()))
			}
			ext = instance.TableExtern(instance.NewEngineTable(tt))
		default:
			continue
		}
		if err := out.AddExport(exp.Name, ext); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// hostShim bridges a wazero call frame to an instance.Function. Errors
// abort guest execution via panic; wazero converts the panic back into
// an error on the calling side.
func hostShim(fn *instance.Function) api.GoModuleFunc {
	typ := fn.Type()
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		args := make([]value.Value, len(typ.Params))
		for i, k := range typ.Params {
			args[i] = value.FromBits(k, stack[i])
		}
		results, err := fn.Call(ctx, args...)
		if err != nil {
			panic(err)
		}
		for i := range typ.Results {
			stack[i] = results[i].Bits()
		}
	}
}

// provImportEntity appends an import to the provider module and
// re-exports the imported entity under exportName. The export index is
// the import's ordinal among its kind.
func provImportEntity(prov *wasm.Module, imp wasm.Import, exportName string) {
	ordinal := uint32(0)
	for _, existing := range prov.Imports {
		if existing.Desc.Kind == imp.Desc.Kind {
			ordinal++
		}
	}
	prov.Imports = append(prov.Imports, imp)
	prov.Exports = append(prov.Exports, wasm.Export{Name: exportName, Kind: imp.Desc.Kind, Idx: ordinal})
}

func exportNamed(exports []wasm.Export, name string) bool {
	for _, exp := range exports {
		if exp.Name == name {
			return true
		}
	}
	return false
}

// globalInitExpr encodes the current value of a host global as a
// constant initializer.
func globalInitExpr(g *instance.Global) ([]byte, error) {
	v := g.Value()
	if numericKind(g.Kind()) {
		return wasm.ConstExpr(g.Kind(), v.Bits()), nil
	}
	if v.IsNullRef() {
		return wasm.ConstExpr(g.Kind(), 0), nil
	}
	return nil, errs.Unsupported(errs.PhaseEngine, "non-null reference global crossing the host boundary")
}
