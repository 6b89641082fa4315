package fsservice

import (
	"context"
	"fmt"

	"toolbridge/internal/tools"
)

// Tools binds the filesystem tool definitions to this service.
func (s *Service) Tools() []*tools.Tool {
	executors := map[string]tools.ExecuteFunc{
		tools.ToolReadFile:               s.execReadFile,
		tools.ToolReadMultipleFiles:      s.execReadMultiple,
		tools.ToolWriteFile:              s.execWriteFile,
		tools.ToolCreateDirectory:        s.execCreateDirectory,
		tools.ToolListDirectory:          s.execListDirectory,
		tools.ToolMoveFile:               s.execMoveFile,
		tools.ToolSearchFiles:            s.execSearchFiles,
		tools.ToolGetFileInfo:            s.execGetFileInfo,
		tools.ToolListAllowedDirectories: s.execListAllowed,
	}

	out := make([]*tools.Tool, 0, len(executors))
	for _, def := range tools.FilesystemTools() {
		out = append(out, tools.BindFilesystemTool(def.Name, executors[def.Name]))
	}
	return out
}

// Definitions returns the advertised filesystem tool set.
func (s *Service) Definitions() []tools.ToolDefinition {
	return tools.FilesystemTools()
}

// Register adds every filesystem tool to registry.
func (s *Service) Register(registry *tools.Registry) error {
	for _, tool := range s.Tools() {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) execReadFile(_ context.Context, args map[string]any) (string, error) {
	path, err := tools.StringArg(args, "path")
	if err != nil {
		return "", err
	}
	return s.Read(path)
}

func (s *Service) execReadMultiple(_ context.Context, args map[string]any) (string, error) {
	paths, err := tools.StringSliceArg(args, "paths")
	if err != nil {
		return "", err
	}
	return renderMultiple(s.ReadMultiple(paths)), nil
}

func (s *Service) execWriteFile(_ context.Context, args map[string]any) (string, error) {
	path, err := tools.StringArg(args, "path")
	if err != nil {
		return "", err
	}
	content, err := tools.StringArg(args, "content")
	if err != nil {
		return "", err
	}
	n, err := s.Write(path, content)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", n, path), nil
}

func (s *Service) execCreateDirectory(_ context.Context, args map[string]any) (string, error) {
	path, err := tools.StringArg(args, "path")
	if err != nil {
		return "", err
	}
	if err := s.CreateDirectory(path); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully created directory %s", path), nil
}

func (s *Service) execListDirectory(_ context.Context, args map[string]any) (string, error) {
	path, err := tools.StringArg(args, "path")
	if err != nil {
		return "", err
	}
	listing, err := s.ListDirectory(path)
	if err != nil {
		return "", err
	}
	return listing.String(), nil
}

func (s *Service) execMoveFile(_ context.Context, args map[string]any) (string, error) {
	source, err := tools.StringArg(args, "source")
	if err != nil {
		return "", err
	}
	destination, err := tools.StringArg(args, "destination")
	if err != nil {
		return "", err
	}
	if err := s.Move(source, destination); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully moved %s to %s", source, destination), nil
}

func (s *Service) execSearchFiles(ctx context.Context, args map[string]any) (string, error) {
	root, err := tools.StringArg(args, "path")
	if err != nil {
		return "", err
	}
	pattern, err := tools.StringArg(args, "pattern")
	if err != nil {
		return "", err
	}
	result, err := s.Search(ctx, root, pattern)
	if err != nil {
		return "", err
	}
	return result.String(), nil
}

func (s *Service) execGetFileInfo(_ context.Context, args map[string]any) (string, error) {
	path, err := tools.StringArg(args, "path")
	if err != nil {
		return "", err
	}
	info, err := s.Info(path)
	if err != nil {
		return "", err
	}
	return info.String(), nil
}

func (s *Service) execListAllowed(_ context.Context, _ map[string]any) (string, error) {
	return renderAllowed(s.ListAllowedDirectories()), nil
}
