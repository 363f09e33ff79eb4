package registry

// Ids match the canonical ids of the chroma engine: lexer names lowercased
// with spaces replaced by "-", and chroma style names.

var builtinLanguages = []Entry{
	{ID: "plaintext", Label: "Plain Text", Category: CategoryCoreLanguages, Core: true},
	{ID: "javascript", Label: "JavaScript", Category: CategoryCoreLanguages, Core: true},
	{ID: "typescript", Label: "TypeScript", Category: CategoryCoreLanguages, Core: true},
	{ID: "python", Label: "Python", Category: CategoryCoreLanguages, Core: true},
	{ID: "go", Label: "Go", Category: CategoryCoreLanguages, Core: true},
	{ID: "rust", Label: "Rust", Category: CategoryCoreLanguages, Core: true},
	{ID: "java", Label: "Java", Category: CategoryCoreLanguages, Core: true},
	{ID: "html", Label: "HTML", Category: CategoryCoreLanguages, Core: true},
	{ID: "css", Label: "CSS", Category: CategoryCoreLanguages, Core: true},
	{ID: "json", Label: "JSON", Category: CategoryCoreLanguages, Core: true},
	{ID: "bash", Label: "Bash", Category: CategoryCoreLanguages, Core: true},
	{ID: "yaml", Label: "YAML", Category: CategoryCoreLanguages, Core: true},
	{ID: "markdown", Label: "Markdown", Category: CategoryCoreLanguages, Core: true},
	{ID: "sql", Label: "SQL", Category: CategoryCoreLanguages, Core: true},

	{ID: "scss", Label: "SCSS", Category: CategoryWeb},
	{ID: "php", Label: "PHP", Category: CategoryWeb},
	{ID: "graphql", Label: "GraphQL", Category: CategoryWeb},
	{ID: "vue", Label: "Vue", Category: CategoryWeb},
	{ID: "svelte", Label: "Svelte", Category: CategoryWeb},

	{ID: "kotlin", Label: "Kotlin", Category: CategoryJVM},
	{ID: "scala", Label: "Scala", Category: CategoryJVM},
	{ID: "groovy", Label: "Groovy", Category: CategoryJVM},
	{ID: "clojure", Label: "Clojure", Category: CategoryJVM},

	{ID: "c", Label: "C", Category: CategorySystems},
	{ID: "c++", Label: "C++", Category: CategorySystems},
	{ID: "c#", Label: "C#", Category: CategorySystems},
	{ID: "zig", Label: "Zig", Category: CategorySystems},
	{ID: "swift", Label: "Swift", Category: CategorySystems},
	{ID: "objective-c", Label: "Objective-C", Category: CategorySystems},
	{ID: "dart", Label: "Dart", Category: CategorySystems},

	{ID: "ruby", Label: "Ruby", Category: CategoryScripting},
	{ID: "perl", Label: "Perl", Category: CategoryScripting},
	{ID: "lua", Label: "Lua", Category: CategoryScripting},
	{ID: "r", Label: "R", Category: CategoryScripting},
	{ID: "julia", Label: "Julia", Category: CategoryScripting},

	{ID: "toml", Label: "TOML", Category: CategoryData},
	{ID: "xml", Label: "XML", Category: CategoryData},
	{ID: "ini", Label: "INI", Category: CategoryData},
	{ID: "protocol-buffer", Label: "Protocol Buffers", Category: CategoryData},
	{ID: "docker", Label: "Dockerfile", Category: CategoryData},
	{ID: "terraform", Label: "Terraform", Category: CategoryData},

	{ID: "powershell", Label: "PowerShell", Category: CategoryShell},
	{ID: "fish", Label: "Fish", Category: CategoryShell},

	{ID: "haskell", Label: "Haskell", Category: CategoryFunctional},
	{ID: "elixir", Label: "Elixir", Category: CategoryFunctional},
	{ID: "erlang", Label: "Erlang", Category: CategoryFunctional},
	{ID: "ocaml", Label: "OCaml", Category: CategoryFunctional},
	{ID: "fsharp", Label: "F#", Category: CategoryFunctional},

	{ID: "diff", Label: "Diff", Category: CategoryOther},
}

var builtinThemes = []Entry{
	{ID: "github-dark", Label: "GitHub Dark", Category: CategoryCoreThemes, Core: true},
	{ID: "github", Label: "GitHub Light", Category: CategoryCoreThemes, Core: true},

	{ID: "monokai", Label: "Monokai", Category: CategoryDarkThemes},
	{ID: "dracula", Label: "Dracula", Category: CategoryDarkThemes},
	{ID: "nord", Label: "Nord", Category: CategoryDarkThemes},
	{ID: "onedark", Label: "One Dark", Category: CategoryDarkThemes},
	{ID: "solarized-dark", Label: "Solarized Dark", Category: CategoryDarkThemes},
	{ID: "catppuccin-mocha", Label: "Catppuccin Mocha", Category: CategoryDarkThemes},
	{ID: "gruvbox", Label: "Gruvbox Dark", Category: CategoryDarkThemes},
	{ID: "tokyonight-night", Label: "Tokyo Night", Category: CategoryDarkThemes},
	{ID: "rose-pine", Label: "Rosé Pine", Category: CategoryDarkThemes},
	{ID: "xcode-dark", Label: "Xcode Dark", Category: CategoryDarkThemes},
	{ID: "native", Label: "Native", Category: CategoryDarkThemes},

	{ID: "monokailight", Label: "Monokai Light", Category: CategoryLightThemes},
	{ID: "solarized-light", Label: "Solarized Light", Category: CategoryLightThemes},
	{ID: "catppuccin-latte", Label: "Catppuccin Latte", Category: CategoryLightThemes},
	{ID: "gruvbox-light", Label: "Gruvbox Light", Category: CategoryLightThemes},
	{ID: "tokyonight-day", Label: "Tokyo Night Day", Category: CategoryLightThemes},
	{ID: "rose-pine-dawn", Label: "Rosé Pine Dawn", Category: CategoryLightThemes},
	{ID: "xcode", Label: "Xcode", Category: CategoryLightThemes},
	{ID: "vs", Label: "Visual Studio", Category: CategoryLightThemes},
	{ID: "friendly", Label: "Friendly", Category: CategoryLightThemes},
}
