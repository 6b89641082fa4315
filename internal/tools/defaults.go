package tools

// Filesystem tool names served by the sandboxed filesystem service.
const (
	ToolReadFile               = "read_file"
	ToolReadMultipleFiles      = "read_multiple_files"
	ToolWriteFile              = "write_file"
	ToolCreateDirectory        = "create_directory"
	ToolListDirectory          = "list_directory"
	ToolMoveFile               = "move_file"
	ToolSearchFiles            = "search_files"
	ToolGetFileInfo            = "get_file_info"
	ToolListAllowedDirectories = "list_allowed_directories"
)

func str(desc string) Property { return Property{Type: "string", Description: desc} }

// filesystemSpecs describes the filesystem tool surface. Execute is bound
// by the service that implements it.
var filesystemSpecs = []Tool{
	{
		Name:        ToolReadFile,
		Description: "Read the complete contents of a file from the file system. Only works within allowed directories.",
		Schema:      ObjectSchema(map[string]Property{"path": str("Path of the file to read")}, "path"),
	},
	{
		Name:        ToolReadMultipleFiles,
		Description: "Read the contents of multiple files at once. Failed reads are reported per file and do not stop the whole operation.",
		Schema: ObjectSchema(map[string]Property{
			"paths": {Type: "array", Description: "Paths of the files to read", Items: &PropertyItems{Type: "string"}},
		}, "paths"),
	},
	{
		Name:        ToolWriteFile,
		Description: "Create a new file or completely overwrite an existing file with new content.",
		Schema: ObjectSchema(map[string]Property{
			"path":    str("Path of the file to write"),
			"content": str("Content to write to the file"),
		}, "path", "content"),
	},
	{
		Name:        ToolCreateDirectory,
		Description: "Create a new directory or ensure a directory exists, including parent directories.",
		Schema:      ObjectSchema(map[string]Property{"path": str("Path of the directory to create")}, "path"),
	},
	{
		Name:        ToolListDirectory,
		Description: "Get a detailed listing of all files and directories in a specified path, marked with [FILE] and [DIR] prefixes.",
		Schema:      ObjectSchema(map[string]Property{"path": str("Path of the directory to list")}, "path"),
	},
	{
		Name:        ToolMoveFile,
		Description: "Move or rename files and directories. Fails if the destination already exists.",
		Schema: ObjectSchema(map[string]Property{
			"source":      str("Path to move from"),
			"destination": str("Path to move to"),
		}, "source", "destination"),
	},
	{
		Name:        ToolSearchFiles,
		Description: "Recursively search for files and directories whose name contains a pattern (case-insensitive).",
		Schema: ObjectSchema(map[string]Property{
			"path":    str("Directory to search from"),
			"pattern": str("Substring to match against entry names"),
		}, "path", "pattern"),
	},
	{
		Name:        ToolGetFileInfo,
		Description: "Retrieve metadata about a file or directory: size, timestamps, type and permissions.",
		Schema:      ObjectSchema(map[string]Property{"path": str("Path to inspect")}, "path"),
	},
	{
		Name:        ToolListAllowedDirectories,
		Description: "Returns the list of directories this server is allowed to access.",
		Schema:      ObjectSchema(nil),
	},
}

// FilesystemTools returns the definitions of the filesystem tool surface.
func FilesystemTools() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(filesystemSpecs))
	for i := range filesystemSpecs {
		defs = append(defs, filesystemSpecs[i].Definition())
	}
	return defs
}

// BindFilesystemTool returns the named filesystem tool executing with exec,
// or nil if name is not part of the surface.
func BindFilesystemTool(name string, exec ExecuteFunc) *Tool {
	for _, spec := range filesystemSpecs {
		if spec.Name == name {
			tool := spec
			tool.Execute = exec
			return &tool
		}
	}
	return nil
}

func memoryTools() []ToolDefinition {
	entities := Property{Type: "array", Description: "Entities with name, entityType and observations", Items: &PropertyItems{Type: "object"}}
	relations := Property{Type: "array", Description: "Relations with from, to and relationType", Items: &PropertyItems{Type: "object"}}
	names := Property{Type: "array", Description: "Entity names", Items: &PropertyItems{Type: "string"}}
	return []ToolDefinition{
		{Name: "create_entities", Description: "Create multiple new entities in the knowledge graph.",
			InputSchema: ObjectSchema(map[string]Property{"entities": entities}, "entities").Raw()},
		{Name: "create_relations", Description: "Create relations between entities in the knowledge graph.",
			InputSchema: ObjectSchema(map[string]Property{"relations": relations}, "relations").Raw()},
		{Name: "add_observations", Description: "Add new observations to existing entities.",
			InputSchema: ObjectSchema(map[string]Property{
				"observations": {Type: "array", Description: "Observations keyed by entityName", Items: &PropertyItems{Type: "object"}},
			}, "observations").Raw()},
		{Name: "delete_entities", Description: "Delete entities and their relations from the knowledge graph.",
			InputSchema: ObjectSchema(map[string]Property{"entityNames": names}, "entityNames").Raw()},
		{Name: "delete_relations", Description: "Delete relations from the knowledge graph.",
			InputSchema: ObjectSchema(map[string]Property{"relations": relations}, "relations").Raw()},
		{Name: "read_graph", Description: "Read the entire knowledge graph.",
			InputSchema: ObjectSchema(nil).Raw()},
		{Name: "search_nodes", Description: "Search for nodes in the knowledge graph by query.",
			InputSchema: ObjectSchema(map[string]Property{"query": str("Text to match against names, types and observations")}, "query").Raw()},
		{Name: "open_nodes", Description: "Open specific nodes in the knowledge graph by name.",
			InputSchema: ObjectSchema(map[string]Property{"names": names}, "names").Raw()},
	}
}

func braveSearchTools() []ToolDefinition {
	return []ToolDefinition{
		{Name: "brave_web_search", Description: "Search the web with the Brave Search API.",
			InputSchema: ObjectSchema(map[string]Property{
				"query": str("Search query"),
				"count": {Type: "number", Description: "Number of results (1-20)"},
			}, "query").Raw()},
		{Name: "brave_local_search", Description: "Search for local businesses and places.",
			InputSchema: ObjectSchema(map[string]Property{
				"query": str("Local search query"),
				"count": {Type: "number", Description: "Number of results (1-20)"},
			}, "query").Raw()},
	}
}

func githubTools() []ToolDefinition {
	return []ToolDefinition{
		{Name: "search_repositories", Description: "Search for GitHub repositories.",
			InputSchema: ObjectSchema(map[string]Property{"query": str("Search query")}, "query").Raw()},
		{Name: "get_file_contents", Description: "Get the contents of a file or directory from a GitHub repository.",
			InputSchema: ObjectSchema(map[string]Property{
				"owner": str("Repository owner"),
				"repo":  str("Repository name"),
				"path":  str("Path to the file or directory"),
			}, "owner", "repo", "path").Raw()},
		{Name: "create_issue", Description: "Create a new issue in a GitHub repository.",
			InputSchema: ObjectSchema(map[string]Property{
				"owner": str("Repository owner"),
				"repo":  str("Repository name"),
				"title": str("Issue title"),
				"body":  str("Issue body"),
			}, "owner", "repo", "title").Raw()},
		{Name: "list_issues", Description: "List issues in a GitHub repository.",
			InputSchema: ObjectSchema(map[string]Property{
				"owner": str("Repository owner"),
				"repo":  str("Repository name"),
				"state": {Type: "string", Description: "Issue state", Enum: []any{"open", "closed", "all"}},
			}, "owner", "repo").Raw()},
	}
}

// DefaultDefinitions returns the static tool set known for a server type,
// used when live discovery is unavailable. Unknown types yield nil.
func DefaultDefinitions(serverType string) []ToolDefinition {
	switch serverType {
	case "filesystem":
		return FilesystemTools()
	case "memory":
		return memoryTools()
	case "brave-search":
		return braveSearchTools()
	case "github":
		return githubTools()
	default:
		return nil
	}
}
